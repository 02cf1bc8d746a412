package queue

import (
	stdjson "encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func encodeJob(job *Job) ([]byte, error) {
	return json.Marshal(job)
}

// decodeJob 解析任务，kind 不一致时拒绝
func decodeJob(raw []byte, kind string) (*Job, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("任务数据不是合法的 JSON")
	}
	if got := gjson.GetBytes(raw, "kind").String(); kind != "" && got != kind {
		return nil, fmt.Errorf("任务类型不匹配: 期望 %s, 实际 %s", kind, got)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func encodePayload(payload interface{}) (stdjson.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return stdjson.RawMessage("{}"), nil
	case []byte:
		if !gjson.ValidBytes(v) {
			return nil, fmt.Errorf("负载不是合法的 JSON")
		}
		return stdjson.RawMessage(v), nil
	case stdjson.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
