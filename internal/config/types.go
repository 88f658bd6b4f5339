package config

// HardwareConfig describes the display controller, its displays and the MPP
// inventory the allocator runs against.
type HardwareConfig struct {
	Hardware     HardwareInfo       `yaml:"hardware"`
	WindowUpdate WindowUpdateConfig `yaml:"window_update"`
	Displays     []DisplayConfig    `yaml:"displays"`
	MPPs         []MPPConfig        `yaml:"mpps"`
	Data         DataConfig         `yaml:"data"`
}

type HardwareInfo struct {
	Name                string `yaml:"name"`
	LogLevel            string `yaml:"log_level"`
	Windows             int    `yaml:"windows"`
	MaxOverlays         int    `yaml:"max_overlays"`
	VideoOverlays       int    `yaml:"video_overlays"`
	BurstLength         int    `yaml:"burst_length_bytes"`
	DRMBurstLength      int    `yaml:"drm_burst_length_bytes"`
	TotalBandwidthLimit int64  `yaml:"total_bandwidth_limit"`
	MaxRetries          int    `yaml:"max_retries"`
	SkipStaticLayers    bool   `yaml:"skip_static_layers"`
	ExternalDstFormat   string `yaml:"external_dst_format"`
}

type WindowUpdateConfig struct {
	Enabled          bool `yaml:"enabled"`
	XAlign           int  `yaml:"x_align"`
	WAlign           int  `yaml:"w_align"`
	DSCHSlices       int  `yaml:"dsc_h_slices"`
	DSCSliceHeight   int  `yaml:"dsc_slice_height"`
	ThresholdPercent int  `yaml:"threshold_percent"`
	MinHeight        int  `yaml:"min_height"`
}

type DisplayConfig struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	XRes      int      `yaml:"xres"`
	YRes      int      `yaml:"yres"`
	Panel     string   `yaml:"panel"`
	PlainDMAs []string `yaml:"plain_dmas"`
	// SecureDMA defaults to true for the primary display only.
	SecureDMA     *bool   `yaml:"secure_dma,omitempty"`
	ExternalMPP   *MPPRef `yaml:"external_mpp,omitempty"`
	FBDMA         string  `yaml:"fb_dma,omitempty"`
	VideoPlayback *bool   `yaml:"video_playback,omitempty"`
	ForceFB       bool    `yaml:"force_fb"`
}

type MPPRef struct {
	Type  string `yaml:"type"`
	Index int    `yaml:"index"`
}

// MPPConfig is one processing unit. Zero values keep the limits of the
// unit family.
type MPPConfig struct {
	Type         string    `yaml:"type"`
	Index        int       `yaml:"index"`
	Formats      []string  `yaml:"formats,omitempty"`
	MaxUpscale   int       `yaml:"max_upscale,omitempty"`
	MaxDownscale int       `yaml:"max_downscale,omitempty"`
	MinSize      *SizeSpec `yaml:"min_size,omitempty"`
	MaxSize      *SizeSpec `yaml:"max_size,omitempty"`
	SrcAlign     int       `yaml:"src_align,omitempty"`
	CropAlign    int       `yaml:"crop_align,omitempty"`
	DstAlign     int       `yaml:"dst_align,omitempty"`
	Compression  *bool     `yaml:"compression,omitempty"`
	Rotation     *bool     `yaml:"rotation,omitempty"`
	Protected    *bool     `yaml:"protected,omitempty"`
}

type SizeSpec struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type DataConfig struct {
	DB       DatabaseConfig `yaml:"db"`
	SpoolDir string         `yaml:"spool_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

// Enabled reports whether frame reports go to InfluxDB.
func (db DatabaseConfig) Enabled() bool {
	return db.Host != ""
}

// GetDisplay returns the display named name.
func (c *HardwareConfig) GetDisplay(name string) (DisplayConfig, bool) {
	for _, d := range c.Displays {
		if d.Name == name {
			return d, true
		}
	}
	return DisplayConfig{}, false
}
