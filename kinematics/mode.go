package kinematics

// InverseMode picks one of the four elbow branches of the inverse solution.
// The first sign applies to the left side and the second to the right side.
type InverseMode string

// The inverse kinematics branches.
const (
	InversePlusPlus   = InverseMode("++")
	InversePlusMinus  = InverseMode("+-")
	InverseMinusPlus  = InverseMode("-+")
	InverseMinusMinus = InverseMode("--")

	// DefaultInverseMode is the usual working branch with the elbows pointing away from each other.
	DefaultInverseMode = InversePlusMinus
)

var inverseModes = []string{"++", "+-", "-+", "--"}

// Validate returns ErrInvalidMode if m is not a known branch.
func (m InverseMode) Validate() error {
	switch m {
	case InversePlusPlus, InversePlusMinus, InverseMinusPlus, InverseMinusMinus:
		return nil
	default:
		return NewInvalidModeError(string(m), inverseModes)
	}
}

func (m InverseMode) signs() (float64, float64) {
	left, right := 1.0, 1.0
	if m[0] == '-' {
		left = -1
	}
	if m[1] == '-' {
		right = -1
	}
	return left, right
}

// ForwardMode selects which of the two forward solutions are returned and in what order.
// "i" is the inward solution and "o" the outward one.
type ForwardMode string

// The forward kinematics selectors.
const (
	ForwardInward        = ForwardMode("i")
	ForwardOutward       = ForwardMode("o")
	ForwardInwardOutward = ForwardMode("io")
	ForwardOutwardInward = ForwardMode("oi")

	DefaultForwardMode = ForwardOutward
)

var forwardModes = []string{"i", "o", "io", "oi"}

// Validate returns ErrInvalidMode if m is not a known selector.
func (m ForwardMode) Validate() error {
	switch m {
	case ForwardInward, ForwardOutward, ForwardInwardOutward, ForwardOutwardInward:
		return nil
	default:
		return NewInvalidModeError(string(m), forwardModes)
	}
}
