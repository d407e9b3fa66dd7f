package vision

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestToFrameLetterboxed(t *testing.T) {
	// 1920x1080 frame rendered into a 800x600 display rect: the contain
	// fit scales by 800/1920, leaving vertical letterbox bars of 75px.
	display := Rect{X1: 0, Y1: 0, X2: 800, Y2: 600}

	tests := []struct {
		name string
		in   Point
		want Point
	}{
		{"content top-left", Point{X: 0, Y: 75}, Point{X: 0, Y: 0}},
		{"content bottom-right", Point{X: 800, Y: 525}, Point{X: 1920, Y: 1080}},
		{"center", Point{X: 400, Y: 300}, Point{X: 960, Y: 540}},
		{"letterbox above clamps to top edge", Point{X: 400, Y: 10}, Point{X: 960, Y: 0}},
		{"letterbox below clamps to bottom edge", Point{X: 400, Y: 590}, Point{X: 960, Y: 1080}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToFrame(tt.in, display, 1920, 1080)
			if math.Abs(got.X-tt.want.X) > 1e-6 || math.Abs(got.Y-tt.want.Y) > 1e-6 {
				t.Errorf("ToFrame(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToFrameDegenerateInputsUnchanged(t *testing.T) {
	p := Point{X: 123, Y: 456}

	tests := []struct {
		name   string
		rect   Rect
		frameW float64
		frameH float64
	}{
		{"zero frame width", Rect{X2: 800, Y2: 600}, 0, 1080},
		{"zero frame height", Rect{X2: 800, Y2: 600}, 1920, 0},
		{"unmeasured display rect", Rect{}, 1920, 1080},
		{"zero display height", Rect{X2: 800}, 1920, 1080},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToFrame(p, tt.rect, tt.frameW, tt.frameH); got != p {
				t.Errorf("ToFrame returned %+v, want input %+v unchanged", got, p)
			}
			if got := ToDisplay(p, tt.rect, tt.frameW, tt.frameH); got != p {
				t.Errorf("ToDisplay returned %+v, want input %+v unchanged", got, p)
			}
		})
	}
}

func TestRoundTripWithinOnePixel(t *testing.T) {
	displays := []Rect{
		{X1: 0, Y1: 0, X2: 800, Y2: 600},
		{X1: 50, Y1: 20, X2: 850, Y2: 620},   // offset rect
		{X1: 0, Y1: 0, X2: 320, Y2: 240},     // small
		{X1: 0, Y1: 0, X2: 2560, Y2: 1440},   // upscaled
		{X1: 10, Y1: 10, X2: 1930, Y2: 1090}, // near-native
	}
	frames := [][2]float64{{1920, 1080}, {1280, 720}, {640, 480}}

	for _, display := range displays {
		for _, frame := range frames {
			frameW, frameH := frame[0], frame[1]
			for fx := 0.0; fx <= 1.0; fx += 0.25 {
				for fy := 0.0; fy <= 1.0; fy += 0.25 {
					p := Point{X: fx * frameW, Y: fy * frameH}
					d := ToDisplay(p, display, frameW, frameH)
					back := ToFrame(d, display, frameW, frameH)
					if math.Abs(back.X-p.X) > 1 || math.Abs(back.Y-p.Y) > 1 {
						t.Fatalf("round trip drifted: display=%+v frame=%vx%v point=%+v got=%+v",
							display, frameW, frameH, p, back)
					}
				}
			}
		}
	}
}

func TestRectToFrame(t *testing.T) {
	display := Rect{X1: 0, Y1: 0, X2: 800, Y2: 600}

	got, ok := RectToFrame(Rect{X1: 0, Y1: 75, X2: 800, Y2: 525}, display, 1920, 1080)
	if !ok {
		t.Fatal("RectToFrame reported mapping unavailable")
	}
	want := Rect{X1: 0, Y1: 0, X2: 1920, Y2: 1080}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RectToFrame mismatch (-want +got):\n%s", diff)
	}

	if _, ok := RectToFrame(Rect{X1: 1, Y1: 2, X2: 3, Y2: 4}, display, 0, 0); ok {
		t.Error("RectToFrame with zero frame dimensions should report unavailable")
	}
}
