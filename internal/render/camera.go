package render

// CameraView is the renderer point of view. Altitude is in planet radii.
type CameraView struct {
	Lat      float64
	Lng      float64
	Altitude float64
}

// CameraState is the engine-side camera. It implements selection.Camera and
// is only touched on the loop goroutine.
type CameraState struct {
	view CameraView
}

// NewCameraState starts the camera over the null island at altitude.
func NewCameraState(altitude float64) *CameraState {
	return &CameraState{view: CameraView{Altitude: altitude}}
}

// PointOfView recenters the camera, keeping the altitude.
func (c *CameraState) PointOfView(lat, lng float64) {
	c.view.Lat = lat
	c.view.Lng = lng
}

// SetAltitude changes the altitude; non-positive values are ignored.
func (c *CameraState) SetAltitude(alt float64) {
	if alt > 0 {
		c.view.Altitude = alt
	}
}

func (c *CameraState) View() CameraView { return c.view }
