package training

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"PPDLDev/pkg/dataProcess"
	"PPDLDev/pkg/evaluation"
	"PPDLDev/pkg/metrics"
	"PPDLDev/pkg/network"
	"PPDLDev/pkg/optimizer"
)

// Trainer 持有模型、优化器与指标输出，按轮次训练和评估
type Trainer struct {
	Model       network.Model
	Opt         optimizer.Optimizer
	Sink        metrics.Sink
	DP          *DPConfig // nil 表示不使用差分隐私
	LogInterval int

	logger logrus.FieldLogger
}

// NewTrainer 创建训练器
func NewTrainer(m network.Model, opt optimizer.Optimizer, sink metrics.Sink, dp *DPConfig, logInterval int) *Trainer {
	if logInterval <= 0 {
		logInterval = 20
	}
	return &Trainer{
		Model:       m,
		Opt:         opt,
		Sink:        sink,
		DP:          dp,
		LogInterval: logInterval,
		logger:      logrus.WithField("component", "trainer"),
	}
}

// EpochResult 一轮训练的统计
type EpochResult struct {
	Epoch    int
	Steps    int
	MeanLoss float64
	Norms    NormRecord // 仅差分隐私训练时填充
	Elapsed  time.Duration
}

// TrainEpoch 遍历一轮 loader；启用差分隐私时每个批次执行 DPStep，否则执行 StandardStep。
// 每 LogInterval 个批次记录一次 "Train Loss"，横坐标为全局批次序号。
func (t *Trainer) TrainEpoch(ctx context.Context, epoch int, loader *dataProcess.Loader) (*EpochResult, error) {
	res := &EpochResult{Epoch: epoch}
	if t.DP != nil {
		res.Norms = make(NormRecord)
	}
	start := time.Now()
	perEpoch := loader.Len()
	runningLoss := 0.0
	totalLoss := 0.0

	err := loader.Iterate(ctx, func(i int, b *dataProcess.Batch) error {
		var loss float64
		if t.DP != nil {
			r, err := DPStep(b, t.Model, t.Opt, *t.DP, res.Norms)
			if err != nil {
				return err
			}
			loss = r.Loss
		} else {
			l, err := StandardStep(b, t.Model, t.Opt)
			if err != nil {
				return err
			}
			loss = l
		}
		runningLoss += loss
		totalLoss += loss
		res.Steps++

		if (i+1)%t.LogInterval == 0 {
			mean := runningLoss / float64(t.LogInterval)
			if t.Sink != nil {
				t.Sink.Record((epoch-1)*perEpoch+i, mean, "Train Loss")
			}
			t.logger.WithFields(logrus.Fields{
				"epoch": epoch,
				"batch": i + 1,
				"loss":  mean,
			}).Debug("train progress")
			runningLoss = 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("第 %d 轮训练失败: %w", epoch, err)
	}
	if res.Steps > 0 {
		res.MeanLoss = totalLoss / float64(res.Steps)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// Test 在测试集上评估并记录总体与每类准确率
func (t *Trainer) Test(ctx context.Context, epoch int, loader *dataProcess.Loader, numClasses int) (*evaluation.Report, error) {
	start := time.Now()
	report, err := evaluation.Evaluate(ctx, t.Model, loader, numClasses)
	if err != nil {
		return nil, err
	}
	if t.Sink != nil {
		t.Sink.Record(epoch, report.Accuracy, "accuracy")
		for c, acc := range report.PerClass {
			if report.Defined[c] {
				t.Sink.Record(epoch, acc, fmt.Sprintf("accuracy_per_class/class_%d", c))
			}
		}
		for key, acc := range report.Groups {
			t.Sink.Record(epoch, acc, "accuracy_per_group/"+key)
		}
	}
	t.logger.WithFields(logrus.Fields{
		"epoch":    epoch,
		"accuracy": report.Accuracy,
		"correct":  report.Correct,
		"total":    report.Total,
		"elapsed":  time.Since(start),
	}).Info("test finished")
	return report, nil
}
