package chatsync

type ScrollKind int

const (
	ScrollNone ScrollKind = iota
	ScrollToBottom
	// ScrollPreserve keeps the message under the viewport's top edge in place
	// after older messages were prepended.
	ScrollPreserve
)

// ScrollPosition is a snapshot of the message viewport.
type ScrollPosition struct {
	Height int
	Offset int
}

// ScrollDirective tells the presentation layer where to move the viewport
// after the thread changed.
type ScrollDirective struct {
	Kind   ScrollKind
	Before ScrollPosition
}

// Resolve returns the offset to apply once the content has newHeight.
func (d ScrollDirective) Resolve(newHeight int) (int, bool) {
	switch d.Kind {
	case ScrollToBottom:
		return newHeight, true
	case ScrollPreserve:
		return AnchoredOffset(d.Before.Height, d.Before.Offset, newHeight), true
	default:
		return 0, false
	}
}

// AnchoredOffset shifts the previous offset by the height gained above it.
func AnchoredOffset(prevHeight, prevOffset, newHeight int) int {
	return prevOffset + (newHeight - prevHeight)
}

// NearTop reports whether the viewport is close enough to the top to load
// older history.
func NearTop(offset, threshold int) bool {
	return offset <= threshold
}
