package service

import "github.com/qs3c/carousel_go_server/internal/model"

// allowedTransitions 状态机: 终态不允许再变更，重新生成需要创建新任务
var allowedTransitions = map[model.JobStatus]map[model.JobStatus]bool{
	model.JobStatusPending: {
		model.JobStatusProcessing: true,
		model.JobStatusFailed:     true,
	},
	model.JobStatusProcessing: {
		model.JobStatusProcessing: true,
		model.JobStatusCompleted:  true,
		model.JobStatusFailed:     true,
	},
	model.JobStatusCompleted: {},
	model.JobStatusFailed:    {},
}

// CanTransition 判断状态变更是否合法
func CanTransition(from, to model.JobStatus) bool {
	return allowedTransitions[from][to]
}
