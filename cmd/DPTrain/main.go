package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"PPDLDev/pkg/config"
	"PPDLDev/pkg/device"
	"PPDLDev/pkg/metrics"
	"PPDLDev/pkg/monitor"
	"PPDLDev/pkg/training"
)

func main() {
	paramsPath := flag.String("params", "configs/params.yaml", "训练参数YAML文件")
	monitorAddr := flag.String("monitor", "", "监控服务监听地址，例如 :8080；为空时不启动")
	logLevel := flag.String("log-level", "info", "日志级别")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logrus.SetLevel(lvl)
	}
	logger := logrus.WithField("component", "main")

	params, err := config.Load(*paramsPath)
	if err != nil {
		logger.Fatalf("加载参数失败: %v", err)
	}
	info := device.Describe()
	logger.WithFields(logrus.Fields{
		"cpu":    info.Brand,
		"cores":  info.Cores,
		"device": params.Device,
	}).Info("运行环境")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mem := metrics.NewMemorySink()
	sinks := metrics.MultiSink{mem}
	if params.SaveDir != "" {
		if err := os.MkdirAll(params.SaveDir, 0o755); err != nil {
			logger.Fatalf("创建输出目录失败: %v", err)
		}
		csvSink, err := metrics.NewCSVSink(filepath.Join(params.SaveDir, "metrics.csv"))
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer csvSink.Close()
		sinks = append(sinks, csvSink)
	}

	if params.RunID == "" {
		params.RunID = uuid.NewString()
	}

	var server *monitor.HTTPServer
	if *monitorAddr != "" {
		server = monitor.NewHTTPServer(*monitorAddr, params.RunID, metrics.NewMemorySink(), monitor.NewHub())
		sinks = append(sinks, server)
		go func() {
			if err := server.Start(); err != nil {
				logger.WithError(err).Error("监控服务退出")
			}
		}()
	}

	fmt.Printf("开始训练: dataset=%s model=%s dp=%v epochs=%d\n", params.Dataset, params.Model, params.DP, params.Epochs)
	start := time.Now()
	summary, err := training.Run(ctx, params, sinks)
	if server != nil {
		server.SetStatus(func(s *monitor.Status) {
			if err != nil {
				s.State, s.Error = "failed", err.Error()
				return
			}
			s.State = "finished"
		})
	}
	if err != nil {
		var ce *config.ConfigError
		switch {
		case errors.As(err, &ce):
			logger.Fatalf("配置错误，训练未开始: %v", err)
		case errors.Is(err, device.ErrAcceleratorUnavailable):
			logger.Fatalf("设备不可用: %v", err)
		default:
			logger.Fatalf("训练失败: %v", err)
		}
	}

	fmt.Printf("训练耗时: %v\n", time.Since(start))
	fmt.Printf("最终准确率: %.2f%% (共 %d 轮)\n", summary.FinalAccuracy, summary.Epochs)
	if summary.Budget != nil {
		fmt.Printf("隐私预算: %s\n", summary.Budget)
	}
	if r := summary.FinalReport; r != nil && r.Disparity.Classes > 0 {
		fmt.Printf("类别准确率: 最小 %.2f%%, 最大 %.2f%%, 方差 %.2f\n", r.Disparity.Min, r.Disparity.Max, r.Disparity.Variance)
	}

	if server != nil {
		// 训练结束后保持监控服务，直到收到退出信号
		fmt.Println("训练完成，监控服务仍在运行，按 Ctrl+C 退出")
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("监控服务关闭失败")
		}
	}
}
