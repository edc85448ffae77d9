package llm

// ModelConfig identifies one invocable model. Values are owned by the
// Registry and handed out as copies.
type ModelConfig struct {
	Name        string  `json:"name"`
	Kind        Kind    `json:"kind"`
	Endpoint    string  `json:"endpoint"`
	Credential  string  `json:"-"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

// Params are the generation defaults stamped onto every ModelConfig.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// DefaultParams returns MaxTokens 4000 and Temperature 0.7.
func DefaultParams() Params {
	return Params{MaxTokens: 4000, Temperature: 0.7}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.MaxTokens <= 0 {
		p.MaxTokens = d.MaxTokens
	}
	if p.Temperature < 0 {
		p.Temperature = d.Temperature
	}
	return p
}
