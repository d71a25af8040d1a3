package linking

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/linkman/internal/model"
)

// セッションペイロードのステージタグ。
// ペイロードはストアにとって不透明なblobであり、スキーマはこのパッケージが所有する。
const (
	stageAudiencePending = "audience_pending"
	stageLocationPending = "location_pending"
)

// sessionPayload はワークフローステージをタグとする直和型。
// audience_pendingではAudiencesが、location_pendingではAudienceとCandidatesが
// 設定される。オーケストレーターは次に期待するステージに従って復号し、
// ステージタグが欠落または未知の場合はフェイルクローズする。
type sessionPayload struct {
	Stage            string                  `json:"stage"`
	Account          model.AuthorizedAccount `json:"account"`
	Audiences        []model.Audience        `json:"audiences,omitempty"`
	Audience         *model.Audience         `json:"audience,omitempty"`
	Candidates       []model.MatchResult     `json:"candidates,omitempty"`
	DeviceIdentifier string                  `json:"device_identifier,omitempty"`
	SourceTag        string                  `json:"source_tag,omitempty"`
	RedirectTarget   string                  `json:"redirect_target,omitempty"`
}

// encodePayload はペイロードをJSONに直列化する。
func encodePayload(p *sessionPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session payload: %w", err)
	}
	return data, nil
}

// decodePayload はペイロードを復号し、ステージタグが期待と一致することを検証する。
// タグの欠落・不一致・未知はすべてエラーとして扱う。
func decodePayload(data []byte, wantStage string) (*sessionPayload, error) {
	var p sessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode session payload: %w", err)
	}
	if p.Stage != wantStage {
		return nil, fmt.Errorf("unexpected session stage: %q", p.Stage)
	}
	return &p, nil
}
