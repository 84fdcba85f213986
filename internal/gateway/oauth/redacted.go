package oauth

const redactedText = "[REDACTED]"

// Redacted wraps a secret so it never shows up in logs or serialized output.
// Value returns the real string; only use it when writing the secret on the wire.
type Redacted struct {
	value string
}

func NewRedacted(value string) Redacted {
	return Redacted{value: value}
}

func (r Redacted) Value() string {
	return r.value
}

func (r Redacted) IsEmpty() bool {
	return r.value == ""
}

func (r Redacted) String() string {
	return redactedText
}

func (r Redacted) GoString() string {
	return "oauth.Redacted{" + redactedText + "}"
}

func (r Redacted) MarshalText() ([]byte, error) {
	return []byte(redactedText), nil
}

func (r Redacted) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedText + `"`), nil
}
