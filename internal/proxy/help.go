package proxy

import "github.com/gofiber/fiber/v3"

const helpPage = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>imghub</title></head>
<body>
<h2>图片缩放服务</h2>
<p>使用格式：<code>/?url=图片地址&amp;w=宽度&amp;h=高度&amp;format=jpeg|png</code></p>
<ul>
<li>只给 w 或 h：等比缩放，不放大</li>
<li>同时给 w 与 h：覆盖缩放后居中裁剪</li>
<li>都不给：原图直通</li>
</ul>
<p>示例：<a href="/?url=https://example.com/image.jpg&amp;w=300&amp;h=200">/?url=https://example.com/image.jpg&amp;w=300&amp;h=200</a></p>
<hr><p><a href="/-/stats">查看统计 /-/stats</a></p>
</body></html>`

func renderHelp(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	return c.Status(fiber.StatusOK).SendString(helpPage)
}
