package display

import (
	"fmt"
	"io"
	"strings"

	"vppdisplay/internal/device"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Dump writes the current allocation of every layer and the last accepted
// window configuration.
func (d *Display) Dump(w io.Writer) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, _ = io.WriteString(w, d.dumpLocked())
}

func (d *Display) dumpLocked() string {
	var b strings.Builder
	fmt.Fprintf(&b, "display %s (%s) %dx%d frame %d\n", d.cfg.Name, d.cfg.Type, d.cfg.XRes, d.cfg.YRes, d.frame)
	fmt.Fprintf(&b, "fb_needed=%t first_fb=%d last_fb=%d fb_window=%d static=%t\n",
		d.fbNeeded, d.firstFb, d.lastFb, d.fbWindow, d.virtualOverlay)
	fmt.Fprintf(&b, "%-3s %-11s %-6s %-6s %-6s %-6s %-20s %s\n",
		"idx", "type", "window", "dma", "int", "ext", "flags", "mpp")
	for i := range d.infos {
		info := &d.infos[i]
		fmt.Fprintf(&b, "%-3d %-11s %-6d %-6s %-6s %-6s %-20s %s\n",
			i, info.Composition, info.Window, info.DMA, d.unitName(info.Internal),
			d.unitName(info.External), info.Flags, info.MPPFlags)
	}
	if len(d.lastConfig) > 0 {
		b.WriteString(dumpConfigs(d.lastConfig))
	}
	return b.String()
}

func dumpConfigs(cfgs []device.WindowConfig) string {
	var b strings.Builder
	for i := range cfgs {
		c := &cfgs[i]
		if c.State == device.WinDisabled {
			fmt.Fprintf(&b, "win%d: %s\n", i, c.State)
			continue
		}
		fmt.Fprintf(&b, "win%d: %s dma=%s fmt=%s src=%d,%d %dx%d/%dx%d dst=%d,%d %dx%d blend=%s alpha=%d prot=%t fence=%d\n",
			i, c.State, c.DMA, c.Format,
			c.Src.X, c.Src.Y, c.Src.W, c.Src.H, c.Src.FullW, c.Src.FullH,
			c.Dst.X, c.Dst.Y, c.Dst.W, c.Dst.H,
			c.Blending, c.PlaneAlpha, c.Protected, c.AcquireFence)
	}
	return b.String()
}

// DumpJSON renders the layer allocation as a JSON object.
func (d *Display) DumpJSON() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Display").String(d.cfg.Name)
	obj.Name("Frame").Int(int(d.frame))
	obj.Name("FbNeeded").Bool(d.fbNeeded)
	obj.Name("FirstFb").Int(d.firstFb)
	obj.Name("LastFb").Int(d.lastFb)
	obj.Name("FbWindow").Int(d.fbWindow)
	obj.Name("StaticReuse").Bool(d.virtualOverlay)

	arr := obj.Name("Layers").Array()
	for i := range d.infos {
		info := &d.infos[i]
		lo := arr.Object()
		lo.Name("Index").Int(i)
		lo.Name("Composition").String(info.Composition.String())
		lo.Name("Window").Int(info.Window)
		lo.Name("DMA").String(info.DMA.String())
		lo.Name("Internal").String(d.unitName(info.Internal))
		lo.Name("External").String(d.unitName(info.External))
		lo.Name("Flags").String(info.Flags.String())
		lo.Name("MPPFlags").String(info.MPPFlags.String())
		lo.End()
	}
	arr.End()
	obj.End()
	return writer.Bytes()
}
