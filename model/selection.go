package model

// SelectionResult 涂抹分割结果
type SelectionResult struct {
	ID                string  `json:"id"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	BoundingBox       BBox    `json:"bounding_box"`
	Mask              string  `json:"mask"`   // base64编码的掩码叠加图
	Cutout            string  `json:"cutout"` // base64编码的裁剪前景
	Patch             string  `json:"patch"`  // base64编码的同框原图裁剪，融合时提供掩码外的上下文
	ForegroundRatio   float64 `json:"foreground_ratio"`
	Confidence        float64 `json:"confidence"`
	ForegroundSamples int     `json:"foreground_samples"`
	BackgroundSamples int     `json:"background_samples"`
	Timestamp         int64   `json:"timestamp"`
}

// CompositeResult 泊松融合结果
type CompositeResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Placement   BBox   `json:"placement"`
	MaskPixels  int    `json:"mask_pixels"`
	Image       string `json:"image"` // base64编码的PNG
	Timestamp   int64  `json:"timestamp"`
	SelectionID string `json:"selection_id,omitempty"`
}

// BBox 边界框
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SelectionResponse 分割响应
type SelectionResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *SelectionResult `json:"data,omitempty"`
}

// CompositeResponse 融合响应
type CompositeResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *CompositeResult `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
