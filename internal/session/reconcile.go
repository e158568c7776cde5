package session

import (
	"fmt"
	"sort"

	"github.com/overprint/overprint/internal/compose"
)

// ReconcileResult is the explicit outcome of folding an operation log:
// the resolved placements per page plus every entry that had to be
// dropped along the way. An empty Pages map with no warnings means there
// was genuinely nothing to draw.
type ReconcileResult struct {
	Pages    map[int][]compose.Placement
	Warnings []compose.Warning
}

type placementState struct {
	placement compose.Placement
	addSeq    int64
}

// Reconcile folds an ordered operation log into final per-page placement
// state. add_image seeds or replaces the full state for an identifier;
// move/resize/rotate patch their respective fields of an already-added
// identifier; delete_image discards the identifier entirely. Operations
// that cannot apply (out-of-range page, patch without a prior add,
// dangling image reference) are dropped with a warning and never fail
// the fold. Given the same ordered log, the result is identical on every
// run.
func Reconcile(ops []Operation, images map[string]Image, pageCount int) ReconcileResult {
	ordered := make([]Operation, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	result := ReconcileResult{Pages: make(map[int][]compose.Placement)}
	state := make(map[int]map[string]*placementState)

	warn := func(page int, imageID, reason string) {
		result.Warnings = append(result.Warnings, compose.Warning{Page: page, ImageID: imageID, Reason: reason})
	}

	for _, op := range ordered {
		payload, err := DecodeOperation(op)
		if err != nil {
			warn(-1, "", fmt.Sprintf("operation %d undecodable: %v", op.Seq, err))
			continue
		}

		page := payload.PageIndex()
		imageID := payload.TargetImage()
		if page < 0 || page >= pageCount {
			warn(page, imageID, fmt.Sprintf("page out of range (document has %d pages)", pageCount))
			continue
		}

		pageState := state[page]
		if pageState == nil {
			pageState = make(map[string]*placementState)
			state[page] = pageState
		}

		switch body := payload.(type) {
		case AddImagePayload:
			pageState[imageID] = &placementState{
				addSeq: op.Seq,
				placement: compose.Placement{
					ImageID:   imageID,
					ImagePath: body.ImagePath,
					X:         body.Position.X,
					Y:         body.Position.Y,
					Width:     body.Position.Width,
					Height:    body.Position.Height,
					Rotation:  body.Rotation,
					Opacity:   body.Opacity,
				},
			}
		case MoveImagePayload:
			current, ok := pageState[imageID]
			if !ok {
				warn(page, imageID, "move without a prior add")
				continue
			}
			current.placement.X = body.NewPosition.X
			current.placement.Y = body.NewPosition.Y
			if body.Rotation != nil {
				current.placement.Rotation = *body.Rotation
			}
		case ResizeImagePayload:
			current, ok := pageState[imageID]
			if !ok {
				warn(page, imageID, "resize without a prior add")
				continue
			}
			width, height := body.Dimensions()
			current.placement.Width = width
			current.placement.Height = height
		case RotateImagePayload:
			current, ok := pageState[imageID]
			if !ok {
				warn(page, imageID, "rotate without a prior add")
				continue
			}
			current.placement.Rotation = body.Rotation
		case DeleteImagePayload:
			if _, ok := pageState[imageID]; !ok {
				warn(page, imageID, "delete without a prior add")
				continue
			}
			delete(pageState, imageID)
		}
	}

	for page, pageState := range state {
		ids := make([]string, 0, len(pageState))
		for imageID := range pageState {
			ids = append(ids, imageID)
		}
		// Draw order follows the seeding add's sequence; ties break on the
		// identifier so output is deterministic across runs.
		sort.Slice(ids, func(i, j int) bool {
			left, right := pageState[ids[i]], pageState[ids[j]]
			if left.addSeq != right.addSeq {
				return left.addSeq < right.addSeq
			}
			return ids[i] < ids[j]
		})

		placements := make([]compose.Placement, 0, len(ids))
		for _, imageID := range ids {
			entry := pageState[imageID]
			image, ok := images[imageID]
			if !ok {
				warn(page, imageID, "image reference cannot be resolved")
				continue
			}
			entry.placement.ImagePath = image.FilePath
			placements = append(placements, entry.placement)
		}
		if len(placements) > 0 {
			result.Pages[page] = placements
		}
	}

	return result
}
