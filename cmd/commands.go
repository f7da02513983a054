package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"imagechat/internal/domain"

	"github.com/spf13/cobra"
)

func newGenerateCommand(opts *rootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "画像を生成し、完了まで待って保存先を表示します",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runGenerate(ctx, a, cmd.OutOrStdout(), strings.Join(args, " "), count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "同じプロンプトで同時に生成する枚数")
	return cmd
}

// runGenerate は、生成を同時に開始し、完了した順ではなく開始した順に結果を表示します
func runGenerate(ctx context.Context, a *app, out io.Writer, prompt string, count int) error {
	if count < 1 {
		count = 1
	}

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := a.orchestrator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	failed := 0
	for _, id := range ids {
		msg, err := a.orchestrator.Await(ctx, id)
		if err != nil {
			return err
		}
		if msg.Status == domain.StatusError {
			failed++
			fmt.Fprintf(out, "%s\terror[%s]\t%s\n", msg.ID, msg.ErrorKind, msg.Error)
			continue
		}
		image, _ := msg.LatestImage()
		fmt.Fprintf(out, "%s\t%s\t%s\n", msg.ID, msg.Status, image.URL)
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d件の生成に失敗しました", failed, len(ids))
	}
	return nil
}

func newChatsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "チャットの一覧を表示します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd, opts, func(a *app) error {
				printChats(cmd.OutOrStdout(), a.core.Snapshot())
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "new [name]",
			Short: "新しいチャットを作成して切り替えます",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, opts, func(a *app) error {
					name := ""
					if len(args) > 0 {
						name = args[0]
					}
					id := a.core.CreateChat(name)
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "switch <id|name>",
			Short: "アクティブなチャットを切り替えます",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, opts, func(a *app) error {
					chat, err := a.core.Snapshot().ResolveChat(args[0])
					if err != nil {
						return err
					}
					return a.core.SetActiveChat(chat.ID)
				})
			},
		},
		&cobra.Command{
			Use:   "rename <id|name> <new-name>",
			Short: "チャットの名前を変更します",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, opts, func(a *app) error {
					chat, err := a.core.Snapshot().ResolveChat(args[0])
					if err != nil {
						return err
					}
					a.core.RenameChat(chat.ID, args[1])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id|name>",
			Short: "チャットを削除します",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, opts, func(a *app) error {
					chat, err := a.core.Snapshot().ResolveChat(args[0])
					if err != nil {
						return err
					}
					return a.core.DeleteChat(chat.ID)
				})
			},
		},
	)
	return cmd
}

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	var (
		model, style, size, negative string
		steps                        int
		cfgScale                     float64
		safeMode, hideWatermark      bool
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "画像生成の設定を表示・変更します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.SettingsPatch
			flags := cmd.Flags()
			if flags.Changed("model") {
				patch.Model = &model
			}
			if flags.Changed("style") {
				patch.StylePreset = &style
			}
			if flags.Changed("size") {
				w, h, err := parseSizeFlag(size)
				if err != nil {
					return err
				}
				patch.Width, patch.Height = &w, &h
			}
			if flags.Changed("steps") {
				patch.Steps = &steps
			}
			if flags.Changed("cfg-scale") {
				patch.CfgScale = &cfgScale
			}
			if flags.Changed("negative-prompt") {
				patch.NegativePrompt = &negative
			}
			if flags.Changed("safe-mode") {
				patch.SafeMode = &safeMode
			}
			if flags.Changed("hide-watermark") {
				patch.HideWatermark = &hideWatermark
			}

			return withState(cmd, opts, func(a *app) error {
				settings := a.core.Settings()
				if !patch.IsEmpty() {
					settings = a.core.UpdateSettings(patch)
				}
				printSettings(cmd.OutOrStdout(), settings)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&model, "model", "", "モデルID")
	flags.StringVar(&style, "style", "", "スタイルプリセット")
	flags.StringVar(&size, "size", "", "画像サイズ (例: 1024x1024)")
	flags.IntVar(&steps, "steps", 0, "ステップ数")
	flags.Float64Var(&cfgScale, "cfg-scale", 0, "CFGスケール")
	flags.StringVar(&negative, "negative-prompt", "", "ネガティブプロンプト")
	flags.BoolVar(&safeMode, "safe-mode", false, "セーフモード")
	flags.BoolVar(&hideWatermark, "hide-watermark", true, "透かしを隠す")
	return cmd
}

func newCatalogCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "利用可能なモデルとスタイルを表示します",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			catalog := a.catalog.Catalog(cmd.Context())
			out := cmd.OutOrStdout()
			if catalog.Fallback {
				fmt.Fprintln(out, "# 一部の一覧を取得できなかったため既定の一覧を表示しています")
			}
			printEntries(out, "MODEL", catalog.Models)
			fmt.Fprintln(out)
			printEntries(out, "STYLE", catalog.Styles)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "SIZES\t%s\n", strings.Join(a.catalog.SupportedSizes(), ", "))
			return nil
		},
	}
}

// withState は、生成クライアントなしで状態を読み込み、処理後に保存して閉じます
func withState(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}

	fnErr := fn(a)
	if err := a.Close(); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

func parseSizeFlag(value string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(value)), "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("画像サイズの形式が正しくありません: %q (例: 1024x1024)", value)
	}
	return w, h, nil
}

func printChats(out io.Writer, s domain.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tMESSAGES\tIMAGES")
	for _, chat := range s.Chats {
		marker := ""
		if chat.ID == s.ActiveChatID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", marker, chat.ID, chat.Name, chat.MessageCount(), chat.ImageCount())
	}
	w.Flush()
}

func printSettings(out io.Writer, s domain.Settings) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "model\t%s\n", s.Model)
	fmt.Fprintf(w, "style\t%s\n", s.StylePreset)
	fmt.Fprintf(w, "size\t%dx%d\n", s.Width, s.Height)
	fmt.Fprintf(w, "steps\t%d\n", s.Steps)
	fmt.Fprintf(w, "cfg-scale\t%.1f\n", s.CfgScale)
	fmt.Fprintf(w, "safe-mode\t%t\n", s.SafeMode)
	fmt.Fprintf(w, "hide-watermark\t%t\n", s.HideWatermark)
	fmt.Fprintf(w, "negative-prompt\t%s\n", s.NegativePrompt)
	w.Flush()
}

func printEntries(out io.Writer, header string, entries []domain.CatalogEntry) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tNAME\n", header)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.ID, e.Name)
	}
	w.Flush()
}
