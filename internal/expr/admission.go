package expr

// Subject is the view of a generation request exposed to admission rules.
type Subject struct {
	Data   string
	Width  int
	Height int
	Margin int
	Level  string
	Dark   string
	Light  string
}

func (s Subject) activation() map[string]any {
	return map[string]any{
		"data":   s.Data,
		"width":  int64(s.Width),
		"height": int64(s.Height),
		"margin": int64(s.Margin),
		"level":  s.Level,
		"dark":   s.Dark,
		"light":  s.Light,
	}
}

// Admission decides whether a request may use the image cache.
// A nil *Admission admits everything.
type Admission struct {
	program Program
}

// NewAdmission compiles expression. An empty expression yields a nil
// Admission.
func NewAdmission(expression string) (*Admission, error) {
	if expression == "" {
		return nil, nil
	}
	env, err := NewEnvironment()
	if err != nil {
		return nil, err
	}
	program, err := env.Compile(expression)
	if err != nil {
		return nil, err
	}
	return &Admission{program: program}, nil
}

// Admit evaluates the rule for s.
func (a *Admission) Admit(s Subject) (bool, error) {
	if a == nil {
		return true, nil
	}
	return a.program.EvalBool(s.activation())
}

// Source returns the rule text, or "" for a nil Admission.
func (a *Admission) Source() string {
	if a == nil {
		return ""
	}
	return a.program.Source()
}
