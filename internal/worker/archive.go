package worker

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalArchiver 未配置 OSS 时把结果清单写到本地目录
type LocalArchiver struct {
	dir string
}

func NewLocalArchiver(dir string) *LocalArchiver {
	return &LocalArchiver{dir: dir}
}

// UploadResultManifest 返回 local:// 开头的路径
func (a *LocalArchiver) UploadResultManifest(jobID string, data []byte) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create result dir: %w", err)
	}
	path := filepath.Join(a.dir, jobID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result manifest: %w", err)
	}
	return "local://" + path, nil
}
