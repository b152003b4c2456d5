package quiz

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	provide "github.com/provideplatform/provide-go/common"
)

// InstallAPI registers the quiz evaluation handler with gin
func InstallAPI(r *gin.Engine) {
	r.POST("/api/v1/quiz/evaluate", evaluateHandler)
}

type evaluateRequest struct {
	Submission *Submission `json:"submission"`
	Rubric     *Rubric     `json:"rubric"`
}

func evaluateHandler(c *gin.Context) {
	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return
	}

	req := &evaluateRequest{}
	if err = json.Unmarshal(buf, req); err != nil {
		provide.RenderError(err.Error(), 422, c)
		return
	}
	if req.Submission == nil || req.Rubric == nil {
		provide.RenderError("submission and rubric required", 422, c)
		return
	}

	provide.Render(Evaluate(req.Submission, req.Rubric), 200, c)
}
