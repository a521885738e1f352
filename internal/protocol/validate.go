package protocol

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// 输入校验边界
const (
	MinPlayerNameLength = 2
	MaxPlayerNameLength = 20
	MinCharacterLength  = 2
	MaxCharacterLength  = 50
	MinPlayers          = 2
)

// 房间码为6位大写字母或数字
var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// IsValidPlayerName 校验玩家昵称长度
func IsValidPlayerName(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= MinPlayerNameLength && n <= MaxPlayerNameLength
}

// IsValidRoomID 校验房间码格式
func IsValidRoomID(roomID string) bool {
	return roomIDPattern.MatchString(roomID)
}

// IsValidCharacter 校验出题内容长度
func IsValidCharacter(character string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(character))
	return n >= MinCharacterLength && n <= MaxCharacterLength
}

// IsValidPresetCategory 校验预设分类
func IsValidPresetCategory(category PresetCategory) bool {
	for _, c := range PresetCategories {
		if c == category {
			return true
		}
	}
	return false
}
