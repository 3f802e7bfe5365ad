//go:build sonic

package pansdk

import (
	"github.com/bytedance/sonic"
)

// for imroc/req and the streaming decode paths
var jsonMarshal = sonic.Marshal
var jsonUnmarshal = sonic.Unmarshal
