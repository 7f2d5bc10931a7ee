package handlers

import (
	"fmt"
	"math"

	"spinwheel/internal/game"
	"spinwheel/internal/viewmodel"
	"spinwheel/internal/wheel"
)

const pageTitle = "Spin the Wheel"

// Wheel drawing constants, in SVG user units.
const (
	wheelCenter = 200.0
	wheelRadius = 200.0
	labelRadius = 140.0
)

func polar(angle, radius float64) (float64, float64) {
	// Angles are clockwise from 12 o'clock; SVG's zero is 3 o'clock.
	rad := (angle - 90) * math.Pi / 180
	return wheelCenter + radius*math.Cos(rad), wheelCenter + radius*math.Sin(rad)
}

func segmentPath(index, count int) string {
	if count == 1 {
		return fmt.Sprintf("M %.3f %.3f m -%.3f 0 a %.3f %.3f 0 1 0 %.3f 0 a %.3f %.3f 0 1 0 -%.3f 0",
			wheelCenter, wheelCenter, wheelRadius, wheelRadius, wheelRadius, 2*wheelRadius,
			wheelRadius, wheelRadius, 2*wheelRadius)
	}
	start, end := wheel.SegmentBounds(index, count)
	x1, y1 := polar(start, wheelRadius)
	x2, y2 := polar(end, wheelRadius)
	largeArc := 0
	if end-start > 180 {
		largeArc = 1
	}
	return fmt.Sprintf("M %.3f %.3f L %.3f %.3f A %.3f %.3f 0 %d 1 %.3f %.3f Z",
		wheelCenter, wheelCenter, x1, y1, wheelRadius, wheelRadius, largeArc, x2, y2)
}

func buildSegments(roster []wheel.Prize) []viewmodel.Segment {
	out := make([]viewmodel.Segment, 0, len(roster))
	for i, p := range roster {
		center := wheel.SegmentCenter(i, len(roster))
		x, y := polar(center, labelRadius)
		out = append(out, viewmodel.Segment{
			PrizeID:    p.ID,
			Name:       p.Name,
			Icon:       p.Icon,
			Color:      p.Color,
			Path:       segmentPath(i, len(roster)),
			TextX:      x,
			TextY:      y,
			TextRotate: center,
			OutOfStock: !p.InStock(),
		})
	}
	return out
}

func spinJSON(snapshot game.Snapshot) string {
	if snapshot.Trajectory == nil {
		return ""
	}
	data, err := json.MarshalToString(game.NewSpinPayload(*snapshot.Trajectory, snapshot.Spinner))
	if err != nil {
		return ""
	}
	return data
}

func buildWheelView(wheelID string, snapshot game.Snapshot, hasPlayer bool) viewmodel.WheelView {
	return viewmodel.WheelView{
		WheelID:  wheelID,
		Segments: buildSegments(snapshot.Roster),
		Rotation: snapshot.Rotation,
		Spinning: snapshot.State != wheel.Idle,
		CanSpin:  hasPlayer && snapshot.Available > 0,
		SpinJSON: spinJSON(snapshot),
	}
}

func buildStats(snapshot game.Snapshot) viewmodel.StatsFragment {
	return viewmodel.StatsFragment{
		Available:  snapshot.Available,
		TotalStock: snapshot.TotalStock,
		OutOfStock: snapshot.Available == 0,
	}
}

func buildWinners(wheelID string, snapshot game.Snapshot, isOwner bool) viewmodel.WinnersFragment {
	entries := make([]viewmodel.WinnerEntry, 0, len(snapshot.Winners))
	for _, rec := range snapshot.Winners {
		entries = append(entries, viewmodel.WinnerEntry{
			Name:       rec.Name,
			PrizeName:  rec.Prize.Name,
			Icon:       rec.Prize.Icon,
			Time:       rec.Timestamp.Format("15:04:05"),
			OutOfStock: rec.OutOfStock,
		})
	}
	return viewmodel.WinnersFragment{
		WheelID: wheelID,
		Winners: entries,
		IsOwner: isOwner,
	}
}

func buildResult(snapshot game.Snapshot) viewmodel.ResultFragment {
	if snapshot.Last == nil {
		return viewmodel.ResultFragment{}
	}
	return viewmodel.ResultFragment{
		Visible:   true,
		Name:      snapshot.Last.Name,
		PrizeName: snapshot.Last.Prize.Name,
		Icon:      snapshot.Last.Prize.Icon,
		Awarded:   snapshot.Last.Awarded,
	}
}
