package vision

import "strconv"

// ClassPerson is the label counted by the zone engine.
const ClassPerson = "person"

var cocoClasses = [...]string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// ClassName maps a COCO class index to its label; unknown ids render as numbers.
func ClassName(id int) string {
	if id >= 0 && id < len(cocoClasses) {
		return cocoClasses[id]
	}
	return strconv.Itoa(id)
}

// People keeps only person-class detections.
func People(dets []Detection) []Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Class == ClassPerson {
			out = append(out, d)
		}
	}
	return out
}
