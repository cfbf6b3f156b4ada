package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateSLARequestThresholds(t *testing.T) {
	tests := []struct {
		name     string
		target   int64
		warning  int64
		critical int64
		wantErr  bool
	}{
		{"阈值递增", 300000, 400000, 500000, false},
		{"三阈值相等", 300000, 300000, 300000, false},
		{"warning等于critical", 100000, 200000, 200000, false},
		{"warning低于目标", 300000, 200000, 500000, true},
		{"critical低于warning", 300000, 400000, 350000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &CreateSLARequest{
				WorkflowID:          1,
				Name:                "响应时长",
				TargetMs:            tt.target,
				WarningThresholdMs:  tt.warning,
				CriticalThresholdMs: tt.critical,
			}
			err := req.validateThresholds()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
