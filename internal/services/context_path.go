package services

import (
	"regexp"
	"strconv"
	"strings"
)

// 路径片段正则：field 或 field[index]
var pathPartRe = regexp.MustCompile(`^([^\[\]]+)?(?:\[([0-9]+)\])?$`)

// ExtractPath 按点分路径从事件上下文中取值
// 支持的格式：
// - "field" - 简单字段
// - "lead.company_name" - 嵌套字段
// - "items[0].name" - 数组索引
// 缺失路径返回nil（空值哨兵），不报错
func ExtractPath(data map[string]interface{}, path string) interface{} {
	if path == "" || data == nil {
		return nil
	}

	var current interface{} = data

	for _, segment := range strings.Split(path, ".") {
		match := pathPartRe.FindStringSubmatch(segment)
		if match == nil {
			return nil
		}

		field := match[1]
		if field != "" {
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil
			}
			current = m[field]
		}

		if match[2] != "" {
			index, _ := strconv.Atoi(match[2])
			arr, ok := current.([]interface{})
			if !ok || index >= len(arr) {
				return nil
			}
			current = arr[index]
		}

		if current == nil {
			return nil
		}
	}

	return current
}
