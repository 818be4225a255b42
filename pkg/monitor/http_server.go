package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"PPDLDev/pkg/metrics"
)

// Status 训练运行的状态，由训练协程更新，HTTP协程读取
type Status struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"` // starting / training / finished / failed
	Epoch     int       `json:"epoch"`
	Epsilon   float64   `json:"epsilon,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// HTTPServer 训练监控服务器：状态、指标序列查询以及websocket实时推送
type HTTPServer struct {
	// Gin框架的路由引擎
	Router *gin.Engine
	// 监听地址，例如 ":8080"
	Addr string
	// 本机IP地址
	LocalIP string
	Hub     *Hub

	sink   *metrics.MemorySink
	srv    *http.Server
	mu     sync.RWMutex
	status Status
}

// NewHTTPServer 创建监控服务器并注册路由
func NewHTTPServer(addr string, runID string, sink *metrics.MemorySink, hub *Hub) *HTTPServer {
	localIP, err := GetLocalIP()
	if err != nil {
		localIP = "未知"
	}
	router := gin.New()
	router.Use(gin.Recovery())

	hs := &HTTPServer{
		Router:  router,
		Addr:    addr,
		LocalIP: localIP,
		Hub:     hub,
		sink:    sink,
		status:  Status{RunID: runID, State: "starting", StartedAt: time.Now().UTC()},
	}
	router.GET("/status", hs.handleStatus)
	router.GET("/series", hs.handleSeries)
	router.GET("/images", hs.handleImages)
	if hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}
	return hs
}

// SetStatus 更新运行状态
func (hs *HTTPServer) SetStatus(update func(*Status)) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	update(&hs.status)
}

func (hs *HTTPServer) Status() Status {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.status
}

// Record 实现 metrics.Sink：写入内存序列、推送给客户端，并根据 accuracy 与 privacy/epsilon 更新状态
func (hs *HTTPServer) Record(step int, value float64, series string) {
	switch series {
	case "accuracy":
		hs.SetStatus(func(s *Status) {
			s.State = "training"
			s.Epoch = step
		})
	case "privacy/epsilon":
		hs.SetStatus(func(s *Status) { s.Epsilon = value })
	}
	hs.sink.Record(step, value, series)
	if hs.Hub != nil {
		hs.Hub.Record(step, value, series)
	}
}

func (hs *HTTPServer) RecordImage(step int, name, path string) {
	hs.sink.RecordImage(step, name, path)
	if hs.Hub != nil {
		hs.Hub.RecordImage(step, name, path)
	}
}

func (hs *HTTPServer) handleStatus(c *gin.Context) {
	st := hs.Status()
	clients := 0
	if hs.Hub != nil {
		clients = hs.Hub.Clients()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   st,
		"local_ip": hs.LocalIP,
		"clients":  clients,
	})
}

// handleSeries 无 name 参数时返回所有序列名，否则返回该序列的全部点
func (hs *HTTPServer) handleSeries(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusOK, gin.H{"series": hs.sink.Names()})
		return
	}
	points := hs.sink.Series(name)
	if len(points) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("序列 %s 不存在", name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "points": points})
}

func (hs *HTTPServer) handleImages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"images": hs.sink.Images()})
}

// Start 启动HTTP服务器，阻塞直到 Stop 被调用或监听失败
func (hs *HTTPServer) Start() error {
	hs.mu.Lock()
	hs.srv = &http.Server{Addr: hs.Addr, Handler: hs.Router, ReadHeaderTimeout: 10 * time.Second}
	srv := hs.srv
	hs.mu.Unlock()

	fmt.Printf("监控服务启动中...\n")
	fmt.Printf("本机IP: %s, 监听地址: %s\n", hs.LocalIP, hs.Addr)
	fmt.Printf("状态页面: http://%s%s/status\n", hs.LocalIP, hs.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("监控服务异常退出: %v", err)
	}
	return nil
}

// Stop 优雅关闭：断开websocket客户端并等待进行中的请求结束
func (hs *HTTPServer) Stop(ctx context.Context) error {
	if hs.Hub != nil {
		hs.Hub.Close()
	}
	hs.mu.RLock()
	srv := hs.srv
	hs.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
