package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"StemMixer/core/player"
	"StemMixer/core/transport"
	"StemMixer/logger"
	"StemMixer/model"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var renderOutput string

// MixFile 离线混音描述文件
type MixFile struct {
	SampleRate int                 `yaml:"sampleRate"`
	Start      float64             `yaml:"start"`
	Duration   float64             `yaml:"duration"` // 0 表示一直渲染到参考轨结束
	Master     MixMaster           `yaml:"master"`
	Tracks     map[string]MixTrack `yaml:"tracks"`
}

// MixMaster 总控
type MixMaster struct {
	Volume *float64 `yaml:"volume"`
	Muted  bool     `yaml:"muted"`
}

// MixTrack 单轨设置
type MixTrack struct {
	URL    string   `yaml:"url"`
	Volume *float64 `yaml:"volume"`
	Pan    float64  `yaml:"pan"`
	Muted  bool     `yaml:"muted"`
	Solo   bool     `yaml:"solo"`
}

// parseMixFile 解析并校验混音文件
func parseMixFile(data []byte) (*MixFile, error) {
	var mf MixFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("invalid mix file: %w", err)
	}
	if len(mf.Tracks) == 0 {
		return nil, errors.New("mix file has no tracks")
	}
	for key, t := range mf.Tracks {
		if t.URL == "" {
			return nil, fmt.Errorf("track %s has no url", key)
		}
	}
	if mf.Start < 0 || mf.Duration < 0 {
		return nil, errors.New("start and duration must not be negative")
	}
	return &mf, nil
}

// Stems 返回 stem 名到地址的映射
func (mf *MixFile) Stems() model.StemMap {
	stems := make(model.StemMap, len(mf.Tracks))
	for key, t := range mf.Tracks {
		stems[key] = t.URL
	}
	return stems
}

// mixer 是 render 需要的 transport 操作
type mixer interface {
	SetTrackMute(key string, muted bool) error
	SetTrackSolo(key string, solo bool) error
	SetTrackVolume(key string, volume float64) error
	SetTrackPan(key string, pan float64) error
	SetMasterVolume(volume float64)
	SetMasterMute(muted bool)
}

// apply 把混音设置应用到已加载的 transport；没加载成功的轨道跳过
func (mf *MixFile) apply(m mixer) {
	for key, t := range mf.Tracks {
		err := errors.Join(
			m.SetTrackMute(key, t.Muted),
			m.SetTrackPan(key, t.Pan),
		)
		if t.Volume != nil {
			err = errors.Join(err, m.SetTrackVolume(key, *t.Volume))
		}
		if t.Solo {
			err = errors.Join(err, m.SetTrackSolo(key, true))
		}
		if err != nil {
			logger.Warn("mix settings not applied", logger.String("track", key), logger.ErrorField(err))
		}
	}
	if mf.Master.Volume != nil {
		m.SetMasterVolume(*mf.Master.Volume)
	}
	m.SetMasterMute(mf.Master.Muted)
}

// renderFrames 计算要渲染的帧数
func renderFrames(start, duration, total float64, rate beep.SampleRate) int {
	if duration <= 0 {
		duration = total - start
	}
	if duration <= 0 {
		return 0
	}
	return rate.N(time.Duration(math.Round(duration * float64(time.Second))))
}

var renderCmd = &cobra.Command{
	Use:   "render <mix.yaml>",
	Short: "离线渲染混音到 WAV",
	Long:  `按 YAML 混音文件加载全部音轨，应用静音/独奏/音量/声像设置，通过同一个 transport 渲染成一个 WAV 文件。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		mf, err := parseMixFile(data)
		if err != nil {
			return err
		}
		return render(ctx, mf, renderOutput)
	},
}

func render(ctx context.Context, mf *MixFile, output string) error {
	rate := mf.SampleRate
	if rate <= 0 {
		rate = cfg.SampleRate
	}

	fetcher, _ := newFetcher(cfg)
	engine := player.NewOffline(rate, fetcher)
	defer engine.Close()

	analysisCache, closeCache := openAnalysisCache(ctx, cfg, false)
	defer closeCache()

	tr := transport.New(engine.Source(), analysisCache, transportOptions(cfg))
	if err := tr.Load(ctx, mf.Stems()); err != nil {
		return err
	}
	mf.apply(tr)

	snap := tr.Snapshot()
	for _, t := range snap.Tracks {
		if t.Status != model.TrackStatusAvailable {
			logger.Warn("track skipped", logger.String("track", t.Key), logger.String("error", t.Error))
		}
	}

	frames := renderFrames(mf.Start, mf.Duration, snap.Duration, engine.SampleRate())
	if frames == 0 {
		return errors.New("nothing to render: start is past the end of the song")
	}
	if err := tr.Seek(mf.Start); err != nil {
		return err
	}
	if err := tr.Play(); err != nil {
		return err
	}
	defer tr.Unload()

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	logger.Info("rendering mix",
		logger.String("output", output),
		logger.Int("frames", frames),
		logger.Float64("seconds", engine.SampleRate().D(frames).Seconds()))
	if err := wav.Encode(out, beep.Take(frames, engine.Mixdown()), engine.Format()); err != nil {
		return fmt.Errorf("failed to encode %s: %w", output, err)
	}
	fmt.Printf("rendered %.1fs to %s\n", engine.SampleRate().D(frames).Seconds(), output)
	return nil
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "mix.wav", "输出 WAV 文件")
	rootCmd.AddCommand(renderCmd)
}
