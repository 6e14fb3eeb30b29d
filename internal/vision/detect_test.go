package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
	assert.Equal(t, 2100, anchorCount(320))
}

// head builds a transposed YOLO output with numClasses classes.
func head(anchors, numClasses int) []float32 {
	return make([]float32, (4+numClasses)*anchors)
}

func setBox(out []float32, anchors, i int, cx, cy, w, h float32, class int, score float32) {
	out[i] = cx
	out[anchors+i] = cy
	out[2*anchors+i] = w
	out[3*anchors+i] = h
	out[(4+class)*anchors+i] = score
}

func TestDecodeOutput(t *testing.T) {
	const anchors, classes = 4, 3
	out := head(anchors, classes)
	setBox(out, anchors, 0, 100, 100, 20, 40, 0, 0.9)
	setBox(out, anchors, 1, 300, 300, 10, 10, 2, 0.1) // below threshold
	setBox(out, anchors, 3, 630, 10, 40, 40, 1, 0.6)  // crosses the right edge

	dets := decodeOutput(out, anchors, 0.25, 2, 1, 1280, 640)
	require.Len(t, dets, 2)

	assert.Equal(t, [4]float32{180, 80, 220, 120}, dets[0].BBox)
	assert.Equal(t, "person", dets[0].Class)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)

	assert.Equal(t, "bicycle", dets[1].Class)
	assert.Equal(t, float32(1220), dets[1].BBox[0])
	assert.Equal(t, float32(1280), dets[1].BBox[2], "clamped to frame width")
	assert.Equal(t, float32(0), dets[1].BBox[1], "clamped to top")
}

func TestDecodeOutputMalformed(t *testing.T) {
	assert.Nil(t, decodeOutput(nil, 0, 0.5, 1, 1, 10, 10))
	assert.Nil(t, decodeOutput(make([]float32, 8), 4, 0.5, 1, 1, 10, 10))
}

func TestNMSIsPerClass(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, ClassID: 0, Confidence: 0.5},
		{BBox: [4]float32{2, 2, 100, 100}, ClassID: 0, Confidence: 0.9},
		{BBox: [4]float32{0, 0, 100, 100}, ClassID: 2, Confidence: 0.7},
		{BBox: [4]float32{300, 300, 400, 400}, ClassID: 0, Confidence: 0.4},
	}

	kept := nms(dets, 0.45)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-6)
	assert.Equal(t, 2, kept[1].ClassID)
	assert.InDelta(t, 0.4, kept[2].Confidence, 1e-6)
}

func TestIoU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	assert.InDelta(t, 0.0, iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}), 1e-6)
	assert.InDelta(t, 1.0/3.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 0, 15, 10}), 1e-6)
	assert.Equal(t, float32(0), iou([4]float32{}, [4]float32{}))
}

func TestToCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	dst := make([]float32, 3*4*4)
	toCHW(img, 4, dst)

	assert.InDelta(t, 1.0, dst[0], 1e-6)
	assert.InDelta(t, 0.0, dst[16], 1e-6)
	assert.InDelta(t, 0.2, dst[32], 1e-6)
}

func TestClassNameAndPeople(t *testing.T) {
	assert.Equal(t, "person", ClassName(0))
	assert.Equal(t, "toothbrush", ClassName(79))
	assert.Equal(t, "80", ClassName(80))

	dets := []Detection{{Class: "person"}, {Class: "dog"}, {Class: "person"}}
	assert.Len(t, People(dets), 2)
	assert.Len(t, dets, 3, "input left intact")
}
