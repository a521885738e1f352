package transport

import "encoding/json"

// 应答消息使用的保留事件名
const eventAck = "ack"

// Envelope 消息信封
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// encodeEnvelope 编码消息信封
func encodeEnvelope(event string, payload interface{}, ackID string) ([]byte, error) {
	env := Envelope{
		Event: event,
		AckID: ackID,
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}

	return json.Marshal(env)
}
