package display

import (
	"sort"

	"vppdisplay/internal/layer"
	"vppdisplay/internal/mpp"

	"github.com/sirupsen/logrus"
)

// isOverlaySupported reports whether layer i can be scanned out by a window
// and which units it needs for that. Units already recorded on the layer's
// info are reused. A unit pinned to another display is never taken; the
// first such capable unit is put into transition toward this display when
// nothing else fits. MPPFlags only keeps the rejections of a layer that
// found no unit, so they do not depend on the order units were tried in.
func (d *Display) isOverlaySupported(i int, mustUseVpp bool) (mpp.UnitID, mpp.UnitID, bool) {
	intU, extU, ok := d.lookupUnits(i, mustUseVpp)
	if ok {
		d.infos[i].MPPFlags = 0
	}
	return intU, extU, ok
}

func (d *Display) lookupUnits(i int, mustUseVpp bool) (mpp.UnitID, mpp.UnitID, bool) {
	l := &d.layers[i]
	info := &d.infos[i]
	intU, extU := info.Internal, info.External

	if l.Flags&layer.SkipLayer != 0 {
		info.Flags |= FlagSkipLayer
		return mpp.NoUnit, mpp.NoUnit, false
	}
	if l.PlaneAlpha == 0 {
		return intU, extU, true
	}
	if i == 0 && l.PlaneAlpha < 255 {
		info.Flags |= FlagUnsupportedPlaneAlpha
		return mpp.NoUnit, mpp.NoUnit, false
	}
	fbTarget := l.Composition == layer.FramebufferTarget
	if !fbTarget && l.Handle == nil {
		info.Flags |= FlagInvalidHandle
		return mpp.NoUnit, mpp.NoUnit, false
	}
	// the framebuffer target has no buffer before the first GPU pass
	noBuffer := fbTarget && l.Handle == nil
	format := l.Format()
	if noBuffer {
		format = layer.FormatRGBA8888
	}
	if l.Handle != nil && !l.IsProtected() && l.HasFloatCrop() {
		info.Flags |= FlagHasFloatSrcCrop
		return mpp.NoUnit, mpp.NoUnit, false
	}
	if !l.Blending.Supported() {
		info.Flags |= FlagUnsupportedBlending
		return mpp.NoUnit, mpp.NoUnit, false
	}
	bpp := layer.BitsPerPixel(format)
	if bpp == 16 && (l.DisplayFrame.Left%2 != 0 || l.DisplayFrame.Right%2 != 0) {
		info.Flags |= FlagNotAlignedDstPosition
		return mpp.NoUnit, mpp.NoUnit, false
	}
	if l.VisibleWidth(d.cfg.XRes)*bpp/8 < d.burstLength(l.IsProtected()) {
		info.Flags |= FlagUnsupportedDstWidth
		return mpp.NoUnit, mpp.NoUnit, false
	}

	needProcessing := l.Handle != nil && l.IsProcessingRequired()
	if !needProcessing && !mustUseVpp {
		return intU, extU, true
	}

	stage := mpp.NewStaging(l)
	stage.Format = format
	both := d.isBothRequired(i, stage)
	if both {
		if intU != mpp.NoUnit && extU != mpp.NoUnit {
			return intU, extU, true
		}
	} else if intU != mpp.NoUnit || (extU != mpp.NoUnit && !mustUseVpp) {
		return intU, extU, true
	}

	transition := mpp.NoUnit

	if extU == mpp.NoUnit && both {
		ref := d.referenceInternal()
		for _, id := range d.externalMPPs {
			u := d.pool.Unit(id)
			if u.State != mpp.Free {
				continue
			}
			extStage, intStage := d.chainStages(stage, u.Cap, ref)
			v := u.Cap.IsProcessingSupported(extStage, intStage.Format)
			if v == mpp.VerdictOK {
				extU = id
				break
			}
			info.MPPFlags |= v
		}
		if extU == mpp.NoUnit {
			info.Flags |= FlagInsufficientMPP
			return mpp.NoUnit, mpp.NoUnit, false
		}
	}

	if intU == mpp.NoUnit {
		for _, id := range d.orderedInternal() {
			u := d.pool.Unit(id)
			if both && u.Type == mpp.TypeVPPG {
				continue
			}
			candidate := stage
			if both {
				_, candidate = d.chainStages(stage, d.pool.Unit(extU).Cap, u.Cap)
			}
			if u.IsEligibleFor(d.id) {
				v := mpp.VerdictOK
				if !noBuffer {
					v = u.Cap.IsProcessingSupported(candidate, candidate.Format)
				}
				if v == mpp.VerdictOK {
					return id, extU, true
				}
				info.MPPFlags |= v
			} else if d.usedByOtherDisplay(u) && transition == mpp.NoUnit {
				transition = id
			}
		}
	}

	if intU == mpp.NoUnit && mustUseVpp && !needProcessing {
		d.startTransition(i, transition)
		info.Flags |= FlagInsufficientMPP
		return mpp.NoUnit, mpp.NoUnit, false
	}
	if both && intU == mpp.NoUnit {
		d.startTransition(i, transition)
		info.Flags |= FlagInsufficientMPP
		return mpp.NoUnit, mpp.NoUnit, false
	}

	if extU == mpp.NoUnit {
		dst := d.externalOutputFormat(format)
		for _, id := range d.externalMPPs {
			u := d.pool.Unit(id)
			if u.State != mpp.Free {
				continue
			}
			v := mpp.VerdictOK
			if !noBuffer {
				v = u.Cap.IsProcessingSupported(stage, dst)
			}
			if v == mpp.VerdictOK {
				extU = id
				if mustUseVpp {
					break
				}
				return mpp.NoUnit, extU, true
			}
			info.MPPFlags |= v
		}
	}

	if extU != mpp.NoUnit && mustUseVpp && intU == mpp.NoUnit {
		// the external unit has already scaled and rotated; the internal
		// unit only fetches its output
		post := mpp.StagingLayer{
			Crop:      frectOfSize(l.DisplayFrame.Width(), l.DisplayFrame.Height()),
			Dst:       l.DisplayFrame,
			Format:    d.externalOutputFormat(format),
			Protected: stage.Protected,
		}
		for _, id := range d.orderedInternal() {
			u := d.pool.Unit(id)
			if u.IsEligibleFor(d.id) {
				v := mpp.VerdictOK
				if !noBuffer {
					v = u.Cap.IsProcessingSupported(post, post.Format)
				}
				if v == mpp.VerdictOK {
					return id, extU, true
				}
				info.MPPFlags |= v
				continue
			}
			if !d.usedByOtherDisplay(u) {
				continue
			}
			if transition == mpp.NoUnit {
				transition = id
				continue
			}
			if !noBuffer &&
				d.pool.Unit(transition).Cap.IsProcessingSupported(post, post.Format) != mpp.VerdictOK &&
				u.Cap.IsProcessingSupported(post, post.Format) == mpp.VerdictOK {
				transition = id
			}
		}
	}

	d.startTransition(i, transition)
	info.Flags |= FlagInsufficientMPP
	return mpp.NoUnit, mpp.NoUnit, false
}

// isBothRequired reports whether the layer needs an external unit chained
// in front of an internal one.
func (d *Display) isBothRequired(i int, s mpp.StagingLayer) bool {
	if d.layers[i].Handle == nil || len(d.externalMPPs) == 0 || len(d.internalMPPs) == 0 {
		return false
	}
	ref := d.referenceInternal()
	if ref == nil {
		return false
	}
	ext := d.pool.Unit(d.externalMPPs[0]).Cap
	if mpp.IsBothProcessingRequired(s, ext, ref) {
		return true
	}
	if s.Protected {
		for _, id := range d.internalMPPs {
			if d.pool.Unit(id).Cap.IsProcessingSupported(s, s.Format) == mpp.VerdictOK {
				return false
			}
		}
		return true
	}
	return false
}

// referenceInternal is the capability used to plan a chained pair before a
// concrete internal unit is chosen. VPP_G units cannot scale, so the first
// other unit of the working set is used.
func (d *Display) referenceInternal() mpp.Capability {
	for _, id := range d.internalMPPs {
		if u := d.pool.Unit(id); u.Type != mpp.TypeVPPG {
			return u.Cap
		}
	}
	for _, id := range d.pool.Internal() {
		if u := d.pool.Unit(id); u.Type != mpp.TypeVPPG {
			return u.Cap
		}
	}
	return nil
}

// chainStages splits s for an external unit followed by an internal one.
// The intermediate buffer keeps the source format when the internal unit
// can read it at the external output size, otherwise it is converted to
// the configured external destination format.
func (d *Display) chainStages(s mpp.StagingLayer, ext, internal mpp.Capability) (mpp.StagingLayer, mpp.StagingLayer) {
	extStage, intStage := mpp.ChainedStaging(s, ext, internal, d.cfg.ExternalDstFormat)
	if internal == nil {
		return extStage, intStage
	}
	if layer.IsRGB(s.Format) {
		intStage.Format = s.Format
		return extStage, intStage
	}
	fetch := intStage
	fetch.Format = s.Format
	wAlign, hAlign := internal.CropAlign(fetch)
	if internal.IsFormatSupported(s.Format) &&
		extStage.Dst.Width()%wAlign == 0 && extStage.Dst.Height()%hAlign == 0 {
		intStage.Format = s.Format
	}
	return extStage, intStage
}

func (d *Display) externalOutputFormat(src layer.Format) layer.Format {
	if layer.IsRGB(src) {
		return src
	}
	return d.cfg.ExternalDstFormat
}

// orderedInternal returns the working set with units pinned to this display
// first, keeping pool order within each group.
func (d *Display) orderedInternal() []mpp.UnitID {
	out := append([]mpp.UnitID(nil), d.internalMPPs...)
	sort.SliceStable(out, func(a, b int) bool {
		return d.pool.Unit(out[a]).WasUsedBy(d.id) && !d.pool.Unit(out[b]).WasUsedBy(d.id)
	})
	return out
}

func (d *Display) usedByOtherDisplay(u *mpp.Unit) bool {
	return u.State == mpp.Free && u.Display != mpp.NoDisplay && u.Display != d.id
}

func (d *Display) startTransition(i int, id mpp.UnitID) {
	if id == mpp.NoUnit {
		return
	}
	u := d.pool.Unit(id)
	d.logger.WithFields(logrus.Fields{
		"layer": i,
		"mpp":   u.String(),
		"from":  int(u.Display),
	}).Debug("MPP transition started")
	u.StartTransition(d.id)
}
