package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// ErrBehindCamera is returned when a world point cannot be seen by a camera.
var ErrBehindCamera = errors.New("point is behind the camera")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// CameraModel relates pixels of an image to rays in world coordinates. Implementations are
// treated as read only and may be shared between goroutines.
type CameraModel interface {
	// PixelToVector returns the unit direction, in world coordinates, of the ray through pix.
	PixelToVector(pix r2.Point) (r3.Vector, error)
	// CameraCenter returns the origin of the ray through pix.
	CameraCenter(pix r2.Point) r3.Vector
	// PointToPixel projects a world point into the image.
	PointToPixel(pt r3.Vector) (r2.Point, error)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// PinholeCamera is an undistorted frame camera with a fixed pose. Camera axes are x right,
// y down and z along the optical axis.
type PinholeCamera struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	// Center is the optical center in world coordinates.
	Center r3.Vector `json:"center"`
	// Rotation maps camera axes to world axes; its columns are the camera axes.
	Rotation [3][3]float64 `json:"rotation"`
}

// NewNadirRotation returns the rotation of a camera looking straight down the world -Z axis
// whose image x axis is the world X axis turned by yaw radians about Z.
func NewNadirRotation(yaw float64) [3][3]float64 {
	c, s := math.Cos(yaw), math.Sin(yaw)
	// Rz(yaw) * diag(1, -1, -1)
	return [3][3]float64{
		{c, s, 0},
		{s, -c, 0},
		{0, 0, -1},
	}
}

// NewPinholeCamera checks the intrinsics and returns a camera.
func NewPinholeCamera(intrinsics *PinholeCameraIntrinsics, center r3.Vector, rotation [3][3]float64) (*PinholeCamera, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return &PinholeCamera{PinholeCameraIntrinsics: intrinsics, Center: center, Rotation: rotation}, nil
}

// NewPinholeCameraFromJSONFile takes in a file path to a JSON and turns it into a PinholeCamera.
func NewPinholeCameraFromJSONFile(jsonPath string) (*PinholeCamera, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	cam := &PinholeCamera{}
	if err := json.Unmarshal(byteValue, cam); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := cam.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "camera %q", jsonPath)
	}
	return cam, nil
}

func (cam *PinholeCamera) toWorld(v r3.Vector) r3.Vector {
	r := cam.Rotation
	return r3.Vector{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

func (cam *PinholeCamera) toCamera(v r3.Vector) r3.Vector {
	r := cam.Rotation
	return r3.Vector{
		X: r[0][0]*v.X + r[1][0]*v.Y + r[2][0]*v.Z,
		Y: r[0][1]*v.X + r[1][1]*v.Y + r[2][1]*v.Z,
		Z: r[0][2]*v.X + r[1][2]*v.Y + r[2][2]*v.Z,
	}
}

// PixelToVector returns the world direction of the ray through pix.
func (cam *PinholeCamera) PixelToVector(pix r2.Point) (r3.Vector, error) {
	if cam.PinholeCameraIntrinsics == nil {
		return r3.Vector{}, NewNoIntrinsicsError("camera has no intrinsics")
	}
	d := r3.Vector{
		X: (pix.X - cam.Ppx) / cam.Fx,
		Y: (pix.Y - cam.Ppy) / cam.Fy,
		Z: 1,
	}
	return cam.toWorld(d).Normalize(), nil
}

// CameraCenter returns the optical center; every ray of a pinhole camera starts there.
func (cam *PinholeCamera) CameraCenter(pix r2.Point) r3.Vector {
	return cam.Center
}

// PointToPixel projects pt into the image. Pixels outside the image bounds are returned as
// long as the point is in front of the camera.
func (cam *PinholeCamera) PointToPixel(pt r3.Vector) (r2.Point, error) {
	if cam.PinholeCameraIntrinsics == nil {
		return r2.Point{}, NewNoIntrinsicsError("camera has no intrinsics")
	}
	c := cam.toCamera(pt.Sub(cam.Center))
	if c.Z <= 0 {
		return r2.Point{}, ErrBehindCamera
	}
	return r2.Point{
		X: c.X/c.Z*cam.Fx + cam.Ppx,
		Y: c.Y/c.Z*cam.Fy + cam.Ppy,
	}, nil
}
