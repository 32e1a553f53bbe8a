package domain

// Fields is the per-recipient value map used for template substitution.
type Fields map[string]string

// Get returns the value stored for key, or an empty string when absent.
func (f Fields) Get(key string) string {
	if f == nil {
		return ""
	}
	return f[key]
}

// TargetRecord is the recipient row owned by the back-office. The engine only
// writes DispatchStatus, mirroring terminal item outcomes.
type TargetRecord struct {
	ID             string
	Name           string
	Phone          string
	Fields         Fields
	DispatchStatus string
}
