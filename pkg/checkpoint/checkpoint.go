package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"PPDLDev/pkg/network"
)

/*
该文件负责保存和恢复模型参数：每轮一个 JSON 文件，位于 <dir>/<run id>/ 下
*/

// Tensor 一个具名参数的行主序数据
type Tensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Snapshot 检查点文件内容
type Snapshot struct {
	RunID    string    `json:"run_id"`
	Epoch    int       `json:"epoch"`
	Accuracy float64   `json:"accuracy"`
	SavedAt  time.Time `json:"saved_at"`
	Params   []Tensor  `json:"params"`
}

// Writer 把模型写入一次运行专属的目录
type Writer struct {
	Dir   string
	RunID uuid.UUID
}

// NewWriter 为运行 id 创建目录，id 为零值时生成新的运行ID
func NewWriter(baseDir string, id uuid.UUID) (*Writer, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	dir := filepath.Join(baseDir, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建检查点目录失败: %v", err)
	}
	return &Writer{Dir: dir, RunID: id}, nil
}

// Save 写入 model_epoch_<n>.json，返回文件路径
func (w *Writer) Save(m network.Model, epoch int, acc float64) (string, error) {
	snap := Snapshot{
		RunID:    w.RunID.String(),
		Epoch:    epoch,
		Accuracy: acc,
		SavedAt:  time.Now().UTC(),
	}
	for _, p := range m.Parameters() {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			data = append(data, mat.Row(nil, i, p.Value)...)
		}
		snap.Params = append(snap.Params, Tensor{Name: p.Name, Rows: r, Cols: c, Data: data})
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("model_epoch_%d.json", epoch))
	buf, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("序列化检查点失败: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return "", fmt.Errorf("写入检查点失败: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("写入检查点失败: %v", err)
	}
	return path, nil
}

// Load 读取检查点并按参数名写回模型，名称或形状不匹配时报错
func Load(path string, m network.Model) (*Snapshot, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取检查点失败: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return nil, fmt.Errorf("解析检查点失败: %v", err)
	}
	byName := make(map[string]Tensor, len(snap.Params))
	for _, t := range snap.Params {
		byName[t.Name] = t
	}
	for _, p := range m.Parameters() {
		t, ok := byName[p.Name]
		if !ok {
			return nil, fmt.Errorf("检查点缺少参数 %s", p.Name)
		}
		r, c := p.Value.Dims()
		if t.Rows != r || t.Cols != c || len(t.Data) != r*c {
			return nil, fmt.Errorf("参数 %s 形状不匹配: 期望 %dx%d, 实际 %dx%d", p.Name, r, c, t.Rows, t.Cols)
		}
		p.Value.Copy(mat.NewDense(r, c, t.Data))
	}
	return &snap, nil
}
