package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default participant-facing texts.
var (
	DefaultWelcome = []string{
		"初めまして！私の名前はBRECOBOTです。お友達登録していただきありがとうございます。",
		"これから一か月間、あなたが知りたいことの答えを探すお手伝いをさせていただきます。",
		"ではさっそく、あなたの研究IDを教えてください。",
	}
	DefaultResearchIDAccepted = "{research_id}さんですね。私に質問をする前に下記のURLにアクセスし、アンケートにお答えください。\n{survey_url}\n（回答の際に研究IDが必要です）"
	DefaultQAInstructions     = "入力ありがとうございました。乳がんに関して知りたいこと（知りたかったこと）を入力してください。「がん情報サービス」「乳がん診療ガイドライン」から情報を提供します。"
	DefaultQAFallback         = "申し訳ありません。お答えできる情報が見つかりませんでした。別の言葉で質問してみてください。"
	DefaultDisambiguation     = "お知りになりたいのは次のどれですか？"
	DefaultPostSurvey         = []string{
		"本日で利用期間が終了です。ご利用ありがとうございました。最後に、下記のURLにアクセスし、アンケートにお答えください。\n{survey_url}\n（回答の際に研究IDが必要です）",
		"また、さらに詳しいご感想を聞かせていただきたく、インタビュー調査も予定しています。ご協力くださる方は、アンケートの最後の同意確認欄と、個人情報をご入力ください。",
	}
	DefaultClosing = []string{
		"ご入力ありがとうございました。これにて私、BRECOBOTのご利用は終了とさせていただきます。インタビュー調査に参加してくださる方には、後ほど個別に研究者より連絡が参りますので、もうしばらくお待ちください。",
		"ご意見などがございましたら、研究事務局までお気軽にご連絡ください。ncc-ganchatbot＠ml.res.ncc.go.jp",
		"ご協力ありがとうございました。",
	}
	DefaultReminder       = "調子はいかがですか？何か乳がんについて知りたいことがありましたら私までお気軽におたずねください。"
	DefaultBeforeLastDay  = "明日で私のお手伝いできる期間が終了します。"
	DefaultConfirmText    = "アンケートの回答は終了しましたか？"
	DefaultConfirmAltText = "確認メッセージ"
	DefaultHelp           = "乳がんに関して知りたいことを入力してください。"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "./storage.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.line_callback_path", "/callback")

	v.SetDefault("messenger.platform", "line")
	v.SetDefault("messenger.line.channel_secret", "")
	v.SetDefault("messenger.line.channel_access_token", "")
	v.SetDefault("messenger.telegram.token", "")
	v.SetDefault("messenger.telegram.webhook_url", "")
	v.SetDefault("messenger.telegram.webhook_path", "/telegram")
	v.SetDefault("messenger.telegram.webhook_secret", "")

	v.SetDefault("lookup.backend", "keyword")
	v.SetDefault("lookup.knowledge_base_path", "./knowledge_base.yaml")
	v.SetDefault("lookup.max_choices", 13)
	v.SetDefault("lookup.gemini.api_key", "")
	v.SetDefault("lookup.gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("lookup.gemini.temperature", 0.2)
	v.SetDefault("lookup.gemini.max_retries", 2)
	v.SetDefault("lookup.gemini.retry_delay_seconds", 2)
	v.SetDefault("lookup.gemini.system_instruction", "")

	v.SetDefault("survey.affirmative", "はい")
	v.SetDefault("survey.negative", "いいえ")
	v.SetDefault("survey.pre_survey_url", "http:// …")
	v.SetDefault("survey.post_survey_url", "http:// …")
	v.SetDefault("survey.version", "sample")
	v.SetDefault("survey.utc_offset", 9*time.Hour)
	v.SetDefault("survey.event_timeout", 30*time.Second)
	v.SetDefault("survey.webhook_concurrency", 8)
	v.SetDefault("survey.reminder_lookback", 24*time.Hour)

	v.SetDefault("survey.messages.welcome", DefaultWelcome)
	v.SetDefault("survey.messages.research_id_accepted", DefaultResearchIDAccepted)
	v.SetDefault("survey.messages.pre_survey_retry", DefaultResearchIDAccepted)
	v.SetDefault("survey.messages.qa_instructions", DefaultQAInstructions)
	v.SetDefault("survey.messages.qa_fallback", DefaultQAFallback)
	v.SetDefault("survey.messages.disambiguation", DefaultDisambiguation)
	v.SetDefault("survey.messages.post_survey", DefaultPostSurvey)
	v.SetDefault("survey.messages.closing", DefaultClosing)
	v.SetDefault("survey.messages.reminder", DefaultReminder)
	v.SetDefault("survey.messages.before_last_day", DefaultBeforeLastDay)
	v.SetDefault("survey.messages.confirm_text", DefaultConfirmText)
	v.SetDefault("survey.messages.confirm_alt_text", DefaultConfirmAltText)
	v.SetDefault("survey.messages.help", DefaultHelp)

	v.SetDefault("scheduler.tasks.reminder_sweep.enabled", true)
	v.SetDefault("scheduler.tasks.reminder_sweep.schedule", "0 * * * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")
}
