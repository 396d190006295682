package resolver

import "strings"

// 上游缺字段时的展示默认值。
const (
	DefaultTitle  = "TikTok Video"
	DefaultAuthor = "@user"
)

// Handle 把用户名规范为 "@name" 形式；空值回退 DefaultAuthor。
func Handle(uniqueID string) string {
	uniqueID = strings.TrimPrefix(strings.TrimSpace(uniqueID), "@")
	if uniqueID == "" {
		return DefaultAuthor
	}
	return "@" + uniqueID
}

// TitleOr 返回去掉首尾空白的标题；空值回退 DefaultTitle。
func TitleOr(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// RefURL 返回后端应消费的页面地址：优先规范化后的长链，缺失时回退用户输入。
func RefURL(canonical, source string) string {
	if s := strings.TrimSpace(canonical); s != "" {
		return s
	}
	return strings.TrimSpace(source)
}
