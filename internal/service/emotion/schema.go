package emotion

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// payload 是要求模型输出的 JSON 结构。
type payload struct {
	Label   string  `json:"label" jsonschema:"required,enum=疲れ,enum=悲しみ,enum=不安,enum=怒り,enum=喜び,enum=平和,enum=充実,enum=空虚"`
	Score   float64 `json:"score" jsonschema:"required,minimum=0,maximum=1,description=感情の強さ"`
	Valence float64 `json:"valence" jsonschema:"required,minimum=-1,maximum=1,description=ネガティブ(-1)からポジティブ(1)"`
	Summary string  `json:"summary" jsonschema:"required,maxLength=20,description=今日の気持ちを一言で（20文字以内）"`
}

// payloadSchema 生成 payload 的 JSON Schema 文本，直接嵌入提示词。
func payloadSchema() (string, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(&payload{})
	// 提示词里不需要 $schema / $id 元信息
	schema.Version = ""
	schema.ID = ""

	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal emotion schema: %w", err)
	}
	return string(raw), nil
}
