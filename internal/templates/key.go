package templates

// Key names one of the fixed on-disk e-mail templates.
type Key string

const (
	Welcome        Key = "welcome"
	PasswordReset  Key = "password-reset"
	OrderAssigned  Key = "order-assigned"
	OrderCompleted Key = "order-completed"
)

var knownKeys = []Key{Welcome, PasswordReset, OrderAssigned, OrderCompleted}

// Keys returns every supported template key.
func Keys() []Key {
	out := make([]Key, len(knownKeys))
	copy(out, knownKeys)
	return out
}

// Valid reports whether k is a supported template key.
func (k Key) Valid() bool {
	for _, known := range knownKeys {
		if k == known {
			return true
		}
	}
	return false
}

// FileName is the template's file name within a search root.
func (k Key) FileName() string {
	return string(k) + ".html"
}
