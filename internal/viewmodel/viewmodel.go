package viewmodel

// HomePage holds data for the landing page.
type HomePage struct {
	Title        string
	DefaultWheel string
	Wheels       []string
}

// WheelPage holds data for the main wheel page template.
type WheelPage struct {
	Title      string
	WheelID    string
	InviteURL  string
	HasPlayer  bool
	PlayerName string
	IsOwner    bool
	Wheel      WheelView
	Stats      StatsFragment
	Winners    WinnersFragment
	Result     ResultFragment
	Players    []string
}

// Segment is one drawn slice of the wheel.
type Segment struct {
	PrizeID    int
	Name       string
	Icon       string
	Color      string
	Path       string
	TextX      float64
	TextY      float64
	TextRotate float64
	OutOfStock bool
}

// WheelView holds the wheel drawing and its current spin.
type WheelView struct {
	WheelID  string
	Segments []Segment
	Rotation float64
	Spinning bool
	CanSpin  bool
	// SpinJSON is the in-flight spin payload, empty when idle.
	SpinJSON string
}

// StatsFragment holds the line under the wheel.
type StatsFragment struct {
	Available  int
	TotalStock int
	OutOfStock bool
}

// WinnerEntry holds one ledger row for rendering.
type WinnerEntry struct {
	Name       string
	PrizeName  string
	Icon       string
	Time       string
	OutOfStock bool
}

// WinnersFragment holds data for the winners panel.
type WinnersFragment struct {
	WheelID string
	Winners []WinnerEntry
	IsOwner bool
}

// ResultFragment holds data for the result modal.
type ResultFragment struct {
	Visible   bool
	Name      string
	PrizeName string
	Icon      string
	Awarded   bool
}
