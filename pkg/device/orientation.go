package device

// Orientation is the screen rotation quadrant: 0 portrait,
// 1 landscape-right, 2 portrait-upside-down, 3 landscape-left.
type Orientation int

// Orientation values
const (
	OrientationPortrait Orientation = iota
	OrientationLandscapeRight
	OrientationPortraitUpsideDown
	OrientationLandscapeLeft
)

var orientationNames = [4]string{
	"portrait",
	"landscape-right",
	"portrait-upside-down",
	"landscape-left",
}

// String returns the orientation name.
func (o Orientation) String() string {
	return orientationNames[o.Normalize()]
}

// Normalize wraps the value into 0..3, handling under- and overflow.
func (o Orientation) Normalize() Orientation {
	n := int(o) % 4
	if n < 0 {
		n += 4
	}
	return Orientation(n)
}

// Left returns the orientation after a counter-clockwise rotation.
func (o Orientation) Left() Orientation {
	return (o - 1).Normalize()
}

// Right returns the orientation after a clockwise rotation.
func (o Orientation) Right() Orientation {
	return (o + 1).Normalize()
}
