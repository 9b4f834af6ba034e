package bot

import "fmt"

// ユーザー向けメッセージは原文どおり英中併記です。

const (
	msgUsageDump = "Usage: /dump [url]\n用法: /dump [url]"

	msgInvalidURL = "Invalid URL. Please provide a valid HTTP or HTTPS URL.\n无效的网址。 请提供有效的 HTTP 或 HTTPS URL。"

	msgUnknownCommand = "I don't understand this command. Please use /help for available commands.\n我不理解这个命令。 请使用 /help 获取可用的命令。\n \n Feedback 反馈: @Pillboard"

	msgNoURL = "No URL found for this session. Please start over.\n未找到URL，请重新开始。"

	msgInvalidPage = "Invalid page number or no keyboard layout found for this file. Please start over.\n无效页码或未找到此文件的键盘布局，请重新开始。"

	msgParsing = "Parsing...\n解析中..."

	msgLoadingPartitions = "Loading partition, please wait...\n正在加载分区，请稍候..."

	msgFetchingMetadata = "Fetching metadata, please wait...\n正在获取元数据，请稍候..."

	msgTimeout = "Running timeout, please retry\n任务超时，请重试"

	msgExecFailed = "Payload dumper execution failed.\nPayload dumper 执行失败。"

	msgUploading = "Uploading...\n上传中..."

	msgUploadSuccess = "File uploaded successfully.\n文件上传成功。"

	msgFileSent = "File sent successfully.\n文件上传成功。"

	msgEmptyFile = "The extracted file is empty or corrupt.\n提取的文件为空或已损坏。"

	msgHelp = "Help:\n" +
		"Extract Android ROM partition image form URL.\n" +
		"Only supports payload.bin packed format, and only supports flashable zip packages.\n" +
		"Just send your ROM URL or use /dump [url]\n" +
		"Due to server limitations, the following partitions cannot be extracted:" +
		"modem, modemfirmware, odm, product, system, system_ext, vendor\n" +
		"Provide timely feedback when encountering problems or get more details at @Pillboard\n\n" +
		"帮助:\n" +
		"从Android ROM链接中提取分区镜像。\n" +
		"仅支持payload.bin打包模式，仅支持zip格式卡刷包。\n" +
		"发送你的ROM URL即可，或者使用 /dump [url]\n" +
		"由于服务器受限，下列分区无法提取：modem, modemfirmware, odm, product, system, system_ext, vendor\n" +
		"更多说明及反馈: @Pillboard"
)

// displayMessage はステータスメッセージの共通ヘッダーを組み立てます。
func displayMessage(url, partitionName, fileName string) string {
	message := "<b>Payload Dumper Bot</b>\n"
	message += fmt.Sprintf("\n🔗URL: \n<code>%s</code>\n", url)
	if partitionName != "" {
		message += fmt.Sprintf("\n💿Partition: <code>%s</code>\n", partitionName)
	}
	if fileName != "" {
		message += fmt.Sprintf("\n📄FILE: \n<code>%s</code>\n", fileName)
	}
	return message
}

func msgSubscribeRequired(channel string) string {
	return fmt.Sprintf("Please subscribe to our channel to use this bot.\n请订阅我们的频道以使用此机器人。\n\nChannel: %s", channel)
}

func msgCDNRewritten(url string) string {
	return "The link you provided has been officially speed-limited by Xiaomi and has been replaced with a high-speed CDN link.\n\n" +
		"你提供的链接被小米官方限速，已替换为高速CDN链接。\n\n" +
		fmt.Sprintf("CDN URL: \n<code>%s</code>", url)
}

func msgQueuePosition(ahead int) string {
	return fmt.Sprintf("Waiting in queue... %d ahead\n排队中...前方还有%d个任务", ahead, ahead)
}

func msgBlacklistedPartition(name string) string {
	return fmt.Sprintf("Server restricted, partition %s is not supported.\n\n由于服务器限制，不支持'%s'分区", name, name)
}

func msgDumpingPartition(name string) string {
	return fmt.Sprintf("Dumping partition '%s', please wait...\n正在提取分区 '%s'，请稍候...", name, name)
}

func msgUploadAttempt(attempt int) string {
	return fmt.Sprintf("Upload error, attempt %d\n上传错误，第%d次尝试", attempt, attempt)
}

func msgUploadExhausted(attempts int) string {
	return fmt.Sprintf("Upload error, failed to retry %d times. Please try again later\n上传错误，重试%d次失败。请稍后再试", attempts, attempts)
}

func msgMetadata(content string) string {
	return fmt.Sprintf("🏷️Metadata:\n<code>%s</code>", content)
}
