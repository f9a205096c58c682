package preset

// Device is one selectable camera identity. Picking a device overwrites the
// user-editable aperture and focal length fields; it never auto-reverts when
// the user edits them afterwards.
type Device struct {
	Name     string  `json:"name"`
	Make     string  `json:"make"`
	Model    string  `json:"model"`
	Aperture float64 `json:"aperture"`
	FocalMm  float64 `json:"focal_mm"`
}

// Resolution is a named pixel-dimension pair. When one is chosen its width
// and height are used verbatim; otherwise height is inferred from width.
type Resolution struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// devices is the process-wide catalog, ordered as presented to the user.
var devices = []Device{
	{Name: "iPhone 17 Pro Max", Make: "Apple", Model: "iPhone 17 Pro Max", Aperture: 1.78, FocalMm: 24},
	{Name: "iPhone 16 Pro", Make: "Apple", Model: "iPhone 16 Pro", Aperture: 1.78, FocalMm: 24},
	{Name: "iPhone 15 Pro Max", Make: "Apple", Model: "iPhone 15 Pro Max", Aperture: 1.78, FocalMm: 24},
	{Name: "Huawei Mate 70 Pro", Make: "HUAWEI", Model: "Mate 70 Pro", Aperture: 1.4, FocalMm: 25},
	{Name: "Xiaomi 15 Ultra", Make: "Xiaomi", Model: "Xiaomi 15 Ultra", Aperture: 1.63, FocalMm: 23},
	{Name: "Samsung Galaxy S25 Ultra", Make: "samsung", Model: "SM-S938B", Aperture: 1.7, FocalMm: 24},
	{Name: "vivo X200 Pro", Make: "vivo", Model: "V2324A", Aperture: 1.57, FocalMm: 23},
	{Name: "OPPO Find X8 Pro", Make: "OPPO", Model: "PJA110", Aperture: 1.6, FocalMm: 23},
}

var resolutions = []Resolution{
	{Name: "12MP 4:3", Width: 4032, Height: 3024},
	{Name: "48MP 4:3", Width: 8064, Height: 6048},
	{Name: "12MP 16:9", Width: 4032, Height: 2268},
	{Name: "8K UHD", Width: 7680, Height: 4320},
	{Name: "4K UHD", Width: 3840, Height: 2160},
}

// Devices returns the catalog in presentation order.
func Devices() []Device {
	out := make([]Device, len(devices))
	copy(out, devices)
	return out
}

// Resolutions returns the named resolution presets in presentation order.
func Resolutions() []Resolution {
	out := make([]Resolution, len(resolutions))
	copy(out, resolutions)
	return out
}

// DeviceByName looks a device up by its display name.
func DeviceByName(name string) (Device, bool) {
	for _, d := range devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// ResolutionByName looks a resolution preset up by its display name.
func ResolutionByName(name string) (Resolution, bool) {
	for _, r := range resolutions {
		if r.Name == name {
			return r, true
		}
	}
	return Resolution{}, false
}
