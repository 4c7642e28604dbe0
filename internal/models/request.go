package models

type CreateProjectRequest struct {
	Name string `json:"name" example:"Kitchen backsplash"`
}

type AttachImageRequest struct {
	// ImageURL is a direct http(s) link to the room photo.
	ImageURL string `json:"image_url" example:"https://example.com/room.jpg"`
}

type PreviewRequest struct {
	Style    string `json:"style,omitempty" example:"scandinavian"`
	RoomType string `json:"room_type,omitempty" example:"kitchen"`
	Prompt   string `json:"prompt,omitempty"`
}

type PlanRequest struct {
	Description string `json:"description,omitempty"`
	Budget      string `json:"budget,omitempty" example:"500"`
	SkillLevel  string `json:"skill_level,omitempty" example:"beginner"`
}

type ProgressRequest struct {
	CompletedSteps   []int `json:"completed_steps"`
	CurrentStepIndex *int  `json:"current_step_index"`
}

type CreateScanRequest struct {
	MeasureStatus string                 `json:"measure_status,omitempty"`
	MeasureResult map[string]interface{} `json:"measure_result,omitempty"`
}

type UpdateScanRequest struct {
	MeasureStatus string                 `json:"measure_status"`
	MeasureResult map[string]interface{} `json:"measure_result,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
