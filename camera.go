package simplisafe

import (
	"fmt"
	"net/url"
	"strconv"
)

// CameraType identifies the camera hardware model.
type CameraType string

// Known camera models.
const (
	CameraTypeCamera   CameraType = "camera"
	CameraTypeDoorbell CameraType = "doorbell"
	CameraTypeUnknown  CameraType = "unknown"
)

// cameraModelMapping translates the vendor's model strings.
var cameraModelMapping = map[string]CameraType{
	"SS001": CameraTypeCamera,
	"SS002": CameraTypeDoorbell,
}

// mediaURLBase is the host that serves camera video.
const mediaURLBase = "https://media.simplisafe.com/v1"

// Camera is a SimpliCam or video doorbell attached to a V3 system. Cameras
// live in the subscription snapshot rather than the sensor list.
type Camera struct {
	client *Client
	serial string
	data   map[string]any
}

func newCamera(client *Client, serial string, data map[string]any) *Camera {
	return &Camera{client: client, serial: serial, data: data}
}

// Serial returns the camera serial (its UUID).
func (c *Camera) Serial() string {
	return c.serial
}

// Name returns the user-assigned camera name.
func (c *Camera) Name() string {
	name, _ := GetString(c.data, "cameraSettings", "cameraName")
	return name
}

// Model returns the raw hardware model string.
func (c *Camera) Model() string {
	model, _ := GetString(c.data, "model")
	return model
}

// Type returns the camera kind derived from the hardware model. Unknown
// models are logged and mapped to CameraTypeUnknown.
func (c *Camera) Type() CameraType {
	cameraType, ok := cameraModelMapping[c.Model()]
	if !ok {
		c.client.logger.Warn("encountered unknown camera model",
			"model", c.Model(),
			"serial", c.serial,
		)
		return CameraTypeUnknown
	}
	return cameraType
}

// Status returns the camera status, e.g. "online".
func (c *Camera) Status() string {
	status, _ := GetString(c.data, "status")
	return status
}

// Shared returns whether the camera feed is shared with emergency dispatch.
func (c *Camera) Shared() bool {
	shared, _ := GetBool(c.data, "cameraSettings", "admin", "odEnableVideoAnalytics")
	return shared
}

// ShutterOpenWhenOff returns whether the privacy shutter is open while the
// system is disarmed.
func (c *Camera) ShutterOpenWhenOff() bool {
	open, _ := GetString(c.data, "cameraSettings", "shutterOff")
	return open == "open"
}

// ShutterOpenWhenHome returns whether the privacy shutter is open while the
// system is armed home.
func (c *Camera) ShutterOpenWhenHome() bool {
	open, _ := GetString(c.data, "cameraSettings", "shutterHome")
	return open == "open"
}

// ShutterOpenWhenAway returns whether the privacy shutter is open while the
// system is armed away.
func (c *Camera) ShutterOpenWhenAway() bool {
	open, _ := GetString(c.data, "cameraSettings", "shutterAway")
	return open == "open"
}

// VideoURL builds the URL of the camera's live stream. Width is in pixels;
// zero values fall back to 1280 wide AAC-encoded FLV.
func (c *Camera) VideoURL(width int, audioEncoding string) string {
	if width == 0 {
		width = 1280
	}
	if audioEncoding == "" {
		audioEncoding = "AAC"
	}

	params := url.Values{}
	params.Set("x", strconv.Itoa(width))
	params.Set("audioEncoding", audioEncoding)

	return fmt.Sprintf("%s/%s/flv?%s", mediaURLBase, c.serial, params.Encode())
}
