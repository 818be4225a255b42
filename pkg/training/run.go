package training

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"PPDLDev/pkg/checkpoint"
	"PPDLDev/pkg/config"
	"PPDLDev/pkg/dataProcess"
	"PPDLDev/pkg/device"
	"PPDLDev/pkg/evaluation"
	"PPDLDev/pkg/metrics"
	"PPDLDev/pkg/network"
	"PPDLDev/pkg/optimizer"
	"PPDLDev/pkg/privacy"
	"PPDLDev/pkg/sampler"
)

/*
该文件是一次训练运行的编排：校验配置与设备、加载数据、构造划分、计算隐私预算、
建立模型与优化器，然后逐轮训练、评估、记录指标并保存检查点
*/

// Summary 一次运行的结果
type Summary struct {
	RunID         string
	Budget        *privacy.Budget // 非差分隐私训练时为 nil
	Epochs        int
	FinalAccuracy float64
	FinalReport   *evaluation.Report
	TrainCounts   map[int]int // 训练集每类样本数
	Checkpoints   []string
}

// data 一次运行用到的全部数据划分
type data struct {
	train, test *dataProcess.Dataset
	numClasses  int
	trainLoader *dataProcess.Loader
	trainCounts map[int]int
	testLoader  *dataProcess.Loader
	perClass    sampler.Partitions
	unbalanced  *dataProcess.Loader
}

func loadDatasets(p *config.Params) (*dataProcess.Dataset, *dataProcess.Dataset, error) {
	switch p.Dataset {
	case "mnist":
		return dataProcess.LoadMNIST(p.DataDir)
	case "csv":
		return dataProcess.LoadCSV(p.DataDir)
	case "synthetic":
		s := p.Synthetic
		train, test := dataProcess.Synthetic(dataProcess.SyntheticSpec{
			Classes:       s.Classes,
			Features:      s.Features,
			TrainPerClass: s.TrainPerClass,
			TestPerClass:  s.TestPerClass,
			Spread:        s.Spread,
			Groups:        s.Groups,
		}, p.Seed)
		return train, test, nil
	default:
		return nil, nil, config.NewConfigError("dataset", p.Dataset, "不支持的数据集")
	}
}

func prepareData(p *config.Params) (*data, error) {
	train, test, err := loadDatasets(p)
	if err != nil {
		return nil, err
	}
	if err := train.Validate(); err != nil {
		return nil, fmt.Errorf("训练集无效: %v", err)
	}
	if err := test.Validate(); err != nil {
		return nil, fmt.Errorf("测试集无效: %v", err)
	}
	if train.InputSize() != test.InputSize() {
		return nil, fmt.Errorf("训练集与测试集维度不一致: %d vs %d", train.InputSize(), test.InputSize())
	}
	d := &data{train: train, test: test, numClasses: max(train.NumClasses, test.NumClasses)}

	if p.DSSize > 0 {
		var targets map[int]int
		if p.NumberOfEntries > 0 {
			targets = make(map[int]int, d.numClasses)
			for c := 0; c < d.numClasses; c++ {
				targets[c] = p.NumberOfEntries
			}
		}
		d.trainLoader, d.trainCounts, err = sampler.ExponentialSkewPartition(train, sampler.SkewConfig{
			Mu:          p.Mu,
			TotalCount:  p.DSSize,
			Excluded:    p.KeyToDrop,
			TargetSizes: targets,
			BatchSize:   p.BatchSize,
			Seed:        p.Seed,
			Prefetch:    p.Prefetch,
			DropLast:    p.DP,
		})
		if err != nil {
			return nil, err
		}
	} else {
		d.trainLoader, err = dataProcess.NewLoader(train, nil, dataProcess.LoaderOptions{
			BatchSize: p.BatchSize,
			Shuffle:   true,
			DropLast:  p.DP,
			Seed:      p.Seed,
			Prefetch:  p.Prefetch,
		})
		if err != nil {
			return nil, err
		}
		d.trainCounts = make(map[int]int)
		for c, idx := range train.ClassIndices() {
			d.trainCounts[c] = len(idx)
		}
	}
	if d.trainLoader.Len() == 0 {
		return nil, config.NewConfigError("batch_size", p.BatchSize, "训练样本不足一个完整批次")
	}

	d.testLoader, err = dataProcess.NewLoader(test, nil, dataProcess.LoaderOptions{
		BatchSize: p.TestBatchSize,
		Prefetch:  p.Prefetch,
	})
	if err != nil {
		return nil, err
	}
	d.perClass, err = sampler.PerClassPartitions(test, p.TestBatchSize, 0)
	if err != nil {
		return nil, err
	}
	if p.NumberOfEntriesTest > 0 {
		d.unbalanced, _, err = sampler.ExponentialSkewTestPartition(test, p.Mu, p.NumberOfEntriesTest, p.TestBatchSize, p.Seed)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func newNoiseSource(p *config.Params) network.NoiseSource {
	if p.Noise == "secure" {
		return network.NewSecureNoise()
	}
	return network.NewSeededNoise(p.Seed)
}

// Run 执行一次完整的训练运行。训练轮次为 1..epochs-1。
func Run(ctx context.Context, p *config.Params, sink metrics.Sink) (*Summary, error) {
	logger := logrus.WithField("component", "run")
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := device.Check(p.Device); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.NewMemorySink()
	}
	logger.Infof("参数:\n%s", p.Table())

	d, err := prepareData(p)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"train":   d.trainLoader.NumSamples(),
		"test":    d.test.Len(),
		"classes": d.numClasses,
		"counts":  d.trainCounts,
	}).Info("数据加载完成")

	model, err := network.New(p.Model, d.train.InputSize(), d.numClasses, p.Hidden, p.Seed)
	if err != nil {
		return nil, err
	}
	if p.HiddenActivation != "" {
		act, err := network.ParseActivation(p.HiddenActivation)
		if err != nil {
			return nil, config.NewConfigError("hidden_activation", p.HiddenActivation, err.Error())
		}
		model.SetHiddenActivation(act)
	}
	if missing := model.Freeze(p.Frozen...); len(missing) > 0 {
		return nil, config.NewConfigError("frozen", missing, "模型中不存在这些参数")
	}
	opt, err := optimizer.New(p.Optimizer, p.LR, p.Momentum, p.Decay)
	if err != nil {
		return nil, err
	}
	var sched *optimizer.MultiStepLR
	if p.Scheduler {
		sched = optimizer.NewMultiStepLR(opt, optimizer.DefaultMilestones(p.Epochs), 0.1)
	}

	runID := uuid.New()
	if p.RunID != "" {
		runID = uuid.MustParse(p.RunID)
	}
	summary := &Summary{RunID: runID.String(), TrainCounts: d.trainCounts}
	var dp *DPConfig
	if p.DP {
		dp = &DPConfig{S: p.S, Z: p.Z, Microbatches: p.NumMicrobatches, Noise: newNoiseSource(p)}
		q := privacy.SamplingRate(p.BatchSize, d.trainLoader.NumSamples())
		budget, err := privacy.ComputeBudget(p.Z, q, privacy.StepsFor(p.Epochs-1, d.trainLoader.Len()), p.Delta)
		if err != nil {
			return nil, err
		}
		summary.Budget = &budget
		sink.Record(0, budget.Epsilon, "privacy/epsilon")
		logger.WithField("budget", budget.String()).Info("隐私预算")
	}

	var writer *checkpoint.Writer
	if p.SaveDir != "" {
		writer, err = checkpoint.NewWriter(p.SaveDir, runID)
		if err != nil {
			return nil, err
		}
	}

	trainer := NewTrainer(model, opt, sink, dp, p.LogInterval)
	for epoch := 1; epoch < p.Epochs; epoch++ {
		start := time.Now()
		res, err := trainer.TrainEpoch(ctx, epoch, d.trainLoader)
		if err != nil {
			return nil, err
		}
		report, err := trainer.Test(ctx, epoch, d.testLoader, d.numClasses)
		if err != nil {
			return nil, err
		}
		if err := recordEpoch(ctx, epoch, model, d, res, report, sink); err != nil {
			return nil, err
		}
		if p.SaveConfusionFigures && writer != nil {
			saveFigures(epoch, report, writer.Dir, sink, logger)
		}
		if writer != nil {
			path, err := writer.Save(model, epoch, report.Accuracy)
			if err != nil {
				return nil, err
			}
			summary.Checkpoints = append(summary.Checkpoints, path)
		}
		if sched != nil {
			sink.Record(epoch, sched.Step(epoch), "lr")
		}

		fmt.Printf("轮次 %d - 损失: %.4f, 准确率: %.2f%%, 耗时: %v\n",
			epoch, res.MeanLoss, report.Accuracy, time.Since(start))
		summary.Epochs = epoch
		summary.FinalAccuracy = report.Accuracy
		summary.FinalReport = report
	}
	return summary, nil
}

// recordEpoch 记录每类划分上的准确率、差异统计、非均衡测试集准确率和每类平均裁剪范数
func recordEpoch(ctx context.Context, epoch int, m network.Model, d *data, res *EpochResult, report *evaluation.Report, sink metrics.Sink) error {
	parts, err := evaluation.EvaluatePartitions(ctx, m, d.perClass)
	if err != nil {
		return err
	}
	accs := make([]float64, d.numClasses)
	for c := range accs {
		if r, ok := parts[c]; ok {
			accs[c] = r.Accuracy
		} else {
			accs[c] = report.PerClass[c]
		}
	}
	disp := evaluation.ComputeDisparity(accs)
	if disp.Classes > 0 {
		sink.Record(epoch, disp.Variance, "accuracy_per_class/accuracy_var")
		sink.Record(epoch, disp.Min, "accuracy_per_class/accuracy_min")
		sink.Record(epoch, disp.Max, "accuracy_per_class/accuracy_max")
	}

	if d.unbalanced != nil {
		r, err := evaluation.Evaluate(ctx, m, d.unbalanced, d.numClasses)
		if err != nil {
			return err
		}
		sink.Record(epoch, r.Accuracy, "accuracy_per_class/unbalanced")
	}

	for c, mean := range res.Norms.ClassMeans() {
		sink.Record(epoch, mean, fmt.Sprintf("norms/class_%d", c))
	}
	return nil
}

func saveFigures(epoch int, report *evaluation.Report, dir string, sink metrics.Sink, logger logrus.FieldLogger) {
	cmPath := filepath.Join(dir, fmt.Sprintf("confusion_epoch_%d.png", epoch))
	if err := metrics.SaveConfusionMatrix(report.Confusion, fmt.Sprintf("Epoch %d", epoch), cmPath); err != nil {
		logger.WithError(err).Warn("保存混淆矩阵失败")
	} else {
		sink.RecordImage(epoch, "confusion_matrix", cmPath)
	}
	accPath := filepath.Join(dir, fmt.Sprintf("class_accuracy_epoch_%d.png", epoch))
	if err := metrics.SaveClassAccuracy(report.PerClass, fmt.Sprintf("Epoch %d", epoch), accPath); err != nil {
		logger.WithError(err).Warn("保存类别准确率图失败")
	} else {
		sink.RecordImage(epoch, "class_accuracy", accPath)
	}
}
