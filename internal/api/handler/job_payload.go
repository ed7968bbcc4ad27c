package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/qs3c/carousel_go_server/internal/model"
	"github.com/qs3c/carousel_go_server/internal/pkg/apperr"
)

const maxSlideCount = 20

var (
	ErrPayloadNotObject  = apperr.Validation("invalid_payload", "payload 必须是 JSON 对象")
	ErrPromptRequired    = apperr.Validation("prompt_required", "请填写轮播图描述")
	ErrInvalidSlideCount = apperr.Validation("invalid_slide_count", "幻灯片数量必须在 1-20 之间")
)

// ValidatePayload 按任务类型校验 payload。未知类型交给 service 拒绝
func ValidatePayload(jobType model.JobType, payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		if jobType == model.JobTypeCarouselGeneration {
			return ErrPromptRequired
		}
		return nil
	}
	if trimmed[0] != '{' {
		return ErrPayloadNotObject
	}

	switch jobType {
	case model.JobTypeCarouselGeneration:
		var p model.CarouselPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return ErrPayloadNotObject
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return ErrPromptRequired
		}
		if p.SlideCount < 0 || p.SlideCount > maxSlideCount {
			return ErrInvalidSlideCount
		}
	default:
		if !json.Valid(trimmed) {
			return ErrPayloadNotObject
		}
	}
	return nil
}
