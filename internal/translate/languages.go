package translate

// Language is an entry of the supported language table.
type Language struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Native string `json:"native"`
}

// Languages is the table offered to clients. "auto" is only valid as a source.
var Languages = []Language{
	{Code: "auto", Name: "Auto", Native: "Detect"},
	{Code: "af", Name: "Afrikaans", Native: "Afrikaans"},
	{Code: "sq", Name: "Albanian", Native: "Shqip"},
	{Code: "ar", Name: "Arabic", Native: "عربي"},
	{Code: "hy", Name: "Armenian", Native: "Հայերէն"},
	{Code: "az", Name: "Azerbaijani", Native: "آذربایجان دیلی"},
	{Code: "eu", Name: "Basque", Native: "Euskara"},
	{Code: "be", Name: "Belarusian", Native: "Беларуская"},
	{Code: "bg", Name: "Bulgarian", Native: "Български"},
	{Code: "ca", Name: "Catalan", Native: "Català"},
	{Code: "zh-CN", Name: "Chinese (Simplified)", Native: "中文简体"},
	{Code: "zh-TW", Name: "Chinese (Traditional)", Native: "中文繁體"},
	{Code: "hr", Name: "Croatian", Native: "Hrvatski"},
	{Code: "cs", Name: "Czech", Native: "Čeština"},
	{Code: "da", Name: "Danish", Native: "Dansk"},
	{Code: "nl", Name: "Dutch", Native: "Nederlands"},
	{Code: "en", Name: "English", Native: "English"},
	{Code: "et", Name: "Estonian", Native: "Eesti keel"},
	{Code: "tl", Name: "Filipino", Native: "Filipino"},
	{Code: "fi", Name: "Finnish", Native: "Suomi"},
	{Code: "fr", Name: "French", Native: "Français"},
	{Code: "gl", Name: "Galician", Native: "Galego"},
	{Code: "ka", Name: "Georgian", Native: "ქართული"},
	{Code: "de", Name: "German", Native: "Deutsch"},
	{Code: "el", Name: "Greek", Native: "Ελληνικά"},
	{Code: "ht", Name: "Haitian Creole", Native: "Kreyòl ayisyen"},
	{Code: "iw", Name: "Hebrew", Native: "עברית"},
	{Code: "hi", Name: "Hindi", Native: "हिन्दी"},
	{Code: "hu", Name: "Hungarian", Native: "Magyar"},
	{Code: "is", Name: "Icelandic", Native: "Íslenska"},
	{Code: "id", Name: "Indonesian", Native: "Bahasa Indonesia"},
	{Code: "ga", Name: "Irish", Native: "Gaeilge"},
	{Code: "it", Name: "Italian", Native: "Italiano"},
	{Code: "ja", Name: "Japanese", Native: "日本語"},
	{Code: "ko", Name: "Korean", Native: "한국어"},
	{Code: "lv", Name: "Latvian", Native: "Latviešu"},
	{Code: "lt", Name: "Lithuanian", Native: "Lietuvių kalba"},
	{Code: "mk", Name: "Macedonian", Native: "Македонски"},
	{Code: "ms", Name: "Malay", Native: "Malay"},
	{Code: "mt", Name: "Maltese", Native: "Malti"},
	{Code: "no", Name: "Norwegian", Native: "Norsk"},
	{Code: "fa", Name: "Persian", Native: "فارسی"},
	{Code: "pl", Name: "Polish", Native: "Polski"},
	{Code: "pt", Name: "Portuguese", Native: "Português"},
	{Code: "ro", Name: "Romanian", Native: "Română"},
	{Code: "ru", Name: "Russian", Native: "Русский"},
	{Code: "sr", Name: "Serbian", Native: "Српски"},
	{Code: "sk", Name: "Slovak", Native: "Slovenčina"},
	{Code: "sl", Name: "Slovenian", Native: "Slovensko"},
	{Code: "es", Name: "Spanish", Native: "Español"},
	{Code: "sw", Name: "Swahili", Native: "Kiswahili"},
	{Code: "sv", Name: "Swedish", Native: "Svenska"},
	{Code: "th", Name: "Thai", Native: "ไทย"},
	{Code: "tr", Name: "Turkish", Native: "Türkçe"},
	{Code: "uk", Name: "Ukrainian", Native: "Українська"},
	{Code: "ur", Name: "Urdu", Native: "اردو"},
	{Code: "vi", Name: "Vietnamese", Native: "Tiếng Việt"},
	{Code: "cy", Name: "Welsh", Native: "Cymraeg"},
	{Code: "yi", Name: "Yiddish", Native: "ייִדיש"},
}

// LanguageByCode returns the language for code, defaulting to English.
func LanguageByCode(code string) Language {
	if l, ok := Lookup(code); ok {
		return l
	}
	return english
}

// Lookup reports whether code is a known language.
func Lookup(code string) (Language, bool) {
	for _, l := range Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageName formats code as "Name (Native)".
func LanguageName(code string) string {
	l, ok := Lookup(code)
	if !ok {
		return "Unknown"
	}
	return l.Name + " (" + l.Native + ")"
}

var english = Language{Code: "en", Name: "English", Native: "English"}

// ValidTarget reports whether code can be translated into.
func ValidTarget(code string) bool {
	_, ok := Lookup(code)
	return ok && code != AutoDetect
}
