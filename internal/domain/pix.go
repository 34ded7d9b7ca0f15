package domain

// ============================================================
// PIX Keys
// ============================================================

// KeyType is the classification of a PIX key. Values match the gateway's
// key_type wire vocabulary.
type KeyType string

const (
	KeyTypeCPF       KeyType = "cpf"
	KeyTypeCNPJ      KeyType = "cnpj"
	KeyTypeEmail     KeyType = "email"
	KeyTypePhone     KeyType = "phone"
	KeyTypeRandom    KeyType = "random"
	KeyTypeUndefined KeyType = "undefined"
)

// PixKey is a free-form PIX key as typed by the merchant, plus its derived
// classification. Type, Normalized and Masked are always re-derived from Raw.
type PixKey struct {
	Raw        string  `json:"raw"`
	Type       KeyType `json:"type"`
	Normalized string  `json:"normalized"` // digits-only for cpf/cnpj/phone
	Masked     string  `json:"masked"`     // display form, never submitted
}

// Submittable reports whether a withdrawal may be sent to this key.
func (k PixKey) Submittable() bool {
	return k.Type != "" && k.Type != KeyTypeUndefined
}
