package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

/*
该文件定义指标输出接口及其内存、CSV、多路实现
训练器只依赖 Sink，具体输出位置由调用方注入
*/

// Sink 指标输出
type Sink interface {
	Record(step int, value float64, series string)
	RecordImage(step int, name, path string)
}

// Point 某一序列上的一个点
type Point struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// Image 记录的图像文件
type Image struct {
	Step int    `json:"step"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// MemorySink 保存在内存中的指标，可被并发读取
type MemorySink struct {
	mu     sync.RWMutex
	series map[string][]Point
	images []Image
}

func NewMemorySink() *MemorySink {
	return &MemorySink{series: make(map[string][]Point)}
}

func (s *MemorySink) Record(step int, value float64, series string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[series] = append(s.series[series], Point{Step: step, Value: value})
}

func (s *MemorySink) RecordImage(step int, name, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, Image{Step: step, Name: name, Path: path})
}

// Series 返回某一序列的副本
func (s *MemorySink) Series(name string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Point(nil), s.series[name]...)
}

// Last 序列的最后一个点
func (s *MemorySink) Last(name string) (Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.series[name]
	if len(pts) == 0 {
		return Point{}, false
	}
	return pts[len(pts)-1], true
}

// Names 所有序列名，升序
func (s *MemorySink) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for n := range s.series {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *MemorySink) Images() []Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Image(nil), s.images...)
}

// CSVSink 以 step,series,value 行追加写入文件，图像记录为 series=image:<name>
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	w      *csv.Writer
	logger logrus.FieldLogger
}

// NewCSVSink 打开（或创建）文件，新文件写入表头
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开指标文件失败: %v", err)
	}
	s := &CSVSink{file: f, w: csv.NewWriter(f), logger: logrus.WithField("component", "metrics_csv")}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		s.write([]string{"step", "series", "value"})
	}
	return s, nil
}

func (s *CSVSink) write(row []string) {
	if err := s.w.Write(row); err != nil {
		s.logger.WithError(err).Warn("写入指标失败")
		return
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.logger.WithError(err).Warn("写入指标失败")
	}
}

func (s *CSVSink) Record(step int, value float64, series string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write([]string{strconv.Itoa(step), series, strconv.FormatFloat(value, 'g', -1, 64)})
}

func (s *CSVSink) RecordImage(step int, name, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write([]string{strconv.Itoa(step), "image:" + name, path})
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}

// MultiSink 把每条记录转发给所有下游
type MultiSink []Sink

func (m MultiSink) Record(step int, value float64, series string) {
	for _, s := range m {
		s.Record(step, value, series)
	}
}

func (m MultiSink) RecordImage(step int, name, path string) {
	for _, s := range m {
		s.RecordImage(step, name, path)
	}
}
