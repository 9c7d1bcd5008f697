package orientation

import (
	"math"

	"github.com/mcdev12/vremote/go/internal/remote"
)

// FromDeviceOrientation converts W3C deviceorientation angles (degrees) into
// a quaternion in camera space, rotated for the current screen orientation
// (degrees, as reported by screen.orientation.angle).
func FromDeviceOrientation(alpha, beta, gamma, screen float64) remote.Quaternion {
	a := alpha * math.Pi / 180
	b := beta * math.Pi / 180
	g := gamma * math.Pi / 180
	o := screen * math.Pi / 180

	q := fromEulerYXZ(b, a, -g)
	// Look out of the back of the device, not the top.
	q = multiply(q, remote.Quaternion{X: -math.Sqrt(0.5), W: math.Sqrt(0.5)})
	// Adjust for screen orientation around the device z axis.
	q = multiply(q, remote.Quaternion{Z: math.Sin(-o / 2), W: math.Cos(-o / 2)})
	return q
}

func fromEulerYXZ(x, y, z float64) remote.Quaternion {
	c1, s1 := math.Cos(x/2), math.Sin(x/2)
	c2, s2 := math.Cos(y/2), math.Sin(y/2)
	c3, s3 := math.Cos(z/2), math.Sin(z/2)

	return remote.Quaternion{
		X: s1*c2*c3 + c1*s2*s3,
		Y: c1*s2*c3 - s1*c2*s3,
		Z: c1*c2*s3 - s1*s2*c3,
		W: c1*c2*c3 + s1*s2*s3,
	}
}

func multiply(a, b remote.Quaternion) remote.Quaternion {
	return remote.Quaternion{
		X: a.X*b.W + a.W*b.X + a.Y*b.Z - a.Z*b.Y,
		Y: a.Y*b.W + a.W*b.Y + a.Z*b.X - a.X*b.Z,
		Z: a.Z*b.W + a.W*b.Z + a.X*b.Y - a.Y*b.X,
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
	}
}

// Inverse returns the conjugate of a unit quaternion.
func Inverse(q remote.Quaternion) remote.Quaternion {
	return remote.Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

// Relative returns q expressed relative to home, i.e. inverse(home) * q.
func Relative(home, q remote.Quaternion) remote.Quaternion {
	return multiply(Inverse(home), q)
}
