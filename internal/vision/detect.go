package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one object found in a frame.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	ClassID    int
	Class      string
	Confidence float32
}

// Options tunes the YOLO post-processing.
type Options struct {
	InputSize     int     // square model input, 640 for the stock exports
	ConfThreshold float32 // minimum best-class score
	IoUThreshold  float32 // NMS overlap threshold
}

// Detector runs a YOLOv8 ONNX export using ONNX Runtime.
// A Detector is safe for use by one goroutine at a time; Detect serializes
// callers because the input and output tensors are shared.
type Detector struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	inputSize int
	anchors   int
	conf      float32
	iou       float32
}

// anchorCount is the number of candidate boxes YOLOv8 emits for a square
// input: one per cell of the stride 8, 16 and 32 feature maps.
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (size / stride) * (size / stride)
	}
	return n
}

// NewDetector loads the YOLOv8 ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, o Options, opts *ort.SessionOptions) (*Detector, error) {
	if o.InputSize <= 0 {
		o.InputSize = 640
	}
	anchors := anchorCount(o.InputSize)

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(o.InputSize), int64(o.InputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// output0: [1, 4+classes, anchors]; rows are cx, cy, w, h, then per-class scores.
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(cocoClasses)), int64(anchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{input},
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:   session,
		input:     input,
		output:    output,
		inputSize: o.InputSize,
		anchors:   anchors,
		conf:      o.ConfThreshold,
		iou:       o.IoUThreshold,
	}, nil
}

// Detect runs the model on a frame and returns boxes in the frame's pixel space.
func (d *Detector) Detect(frame image.Image) ([]Detection, error) {
	bounds := frame.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	toCHW(frame, d.inputSize, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	scaleW := float32(origW) / float32(d.inputSize)
	scaleH := float32(origH) / float32(d.inputSize)
	dets := decodeOutput(d.output.GetData(), d.anchors, d.conf, scaleW, scaleH, origW, origH)
	return nms(dets, d.iou), nil
}

// InputSize returns the model's square input dimension.
func (d *Detector) InputSize() int {
	return d.inputSize
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	if d.output != nil {
		d.output.Destroy()
	}
}

// toCHW resizes img to size×size and writes RGB/255 planes into dst.
func toCHW(img image.Image, size int, dst []float32) {
	resized := imaging.Resize(img, size, size, imaging.Linear)
	plane := size * size
	pix := resized.Pix
	for i := 0; i < plane; i++ {
		dst[i] = float32(pix[i*4]) / 255
		dst[plane+i] = float32(pix[i*4+1]) / 255
		dst[2*plane+i] = float32(pix[i*4+2]) / 255
	}
}

// decodeOutput turns the transposed YOLOv8 head into detections.
func decodeOutput(out []float32, anchors int, threshold, scaleW, scaleH float32, origW, origH int) []Detection {
	if anchors <= 0 {
		return nil
	}
	numClasses := len(out)/anchors - 4
	if numClasses <= 0 {
		return nil
	}

	var detections []Detection
	for i := 0; i < anchors; i++ {
		best := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			if s := out[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < threshold {
			continue
		}

		cx, cy := out[i], out[anchors+i]
		w, h := out[2*anchors+i], out[3*anchors+i]

		detections = append(detections, Detection{
			BBox: [4]float32{
				clampF((cx-w/2)*scaleW, 0, float32(origW)),
				clampF((cy-h/2)*scaleH, 0, float32(origH)),
				clampF((cx+w/2)*scaleW, 0, float32(origW)),
				clampF((cy+h/2)*scaleH, 0, float32(origH)),
			},
			ClassID:    best,
			Class:      ClassName(best),
			Confidence: bestScore,
		})
	}
	return detections
}

// nms performs per-class Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] || detections[j].ClassID != detections[i].ClassID {
				continue
			}
			if iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
