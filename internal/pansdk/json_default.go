//go:build !sonic

package pansdk

import (
	"github.com/goccy/go-json"
)

// for imroc/req and the streaming decode paths
var jsonMarshal = json.Marshal
var jsonUnmarshal = json.Unmarshal
