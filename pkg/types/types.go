package types

import "image"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned rectangle in source image pixels
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the integer center point of the rectangle
func (r Rect) Center() (int, int) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Area returns the area of the rectangle
func (r Rect) Area() int {
	return r.W * r.H
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Image converts the rectangle to an image.Rectangle
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Within reports whether the rectangle lies inside a w x h image
func (r Rect) Within(w, h int) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= w && r.Y+r.H <= h
}

// Detection is one raw candidate produced by a face detection backend.
// Box is normalized to the image size.
type Detection struct {
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Size is a pixel width and height pair
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Aspect returns width / height
func (s Size) Aspect() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// PhotoResult records the outcome of one photo in a batch
type PhotoResult struct {
	Source string `json:"source"`
	Output string `json:"output,omitempty"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}
