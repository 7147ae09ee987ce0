// internal/workers/lender/poll-lender-application/models.go
package polllenderapplication

type Input struct {
	LenderApplicationID string `json:"lenderApplicationId"`
}

type Output struct {
	LenderApplicationID string `json:"lenderApplicationId"`
	Status              string `json:"lenderApplicationStatus"`
	Disposition         string `json:"pollDisposition"`
	LenderEvent         string `json:"lenderEvent,omitempty"`
	NextPollAt          string `json:"nextPollAt,omitempty"` // ISO 8601
}
