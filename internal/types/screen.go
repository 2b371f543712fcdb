package types

type ScreenPosition struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type DesignFile struct {
	Filename   string `json:"filename" yaml:"filename"`
	Title      string `json:"title" yaml:"title"`
	ScreenType string `json:"screen_type" yaml:"screen_type"`
	HTML       string `json:"html" yaml:"-"`
	ModifiedAt int64  `json:"modified_at" yaml:"modified_at"`
}
