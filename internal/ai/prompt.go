package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a browser automation script writer. You turn a natural language request into a short Playwright-style script that a line-oriented compiler will read.

You will receive:
1. An inventory of the page: URL, title and the interactive elements (buttons, inputs, links, selects) with usable CSS selectors
2. A user request describing what to do

Write the script as numbered blocks. Every block starts with a marker line "// Step N" (N = 1, 2, 3, ...) and contains exactly one action call. Only these calls are understood:
- await page.goto('https://...')
- await page.click('selector')
- await page.fill('selector', 'text')
- await page.waitForTimeout(milliseconds)
- await page.waitForSelector('selector')
- await page.$$eval('selector', els => els.map(e => e.textContent))
- await page.screenshot({ path: 'name.png' })
- await page.evaluate(() => window.scrollTo(x, y))

Per block you may also add:
- "const maxRetries = N" to retry a flaky action N times
- "// fallback: <one of the calls above>" to name an alternate selector of the same action type, tried on retry
- "console.log('ignore errors and continue')" when the block is optional

Guidelines:
- Use only selectors from the inventory, or selectors the request names explicitly
- Add a waitForSelector block after actions that load new content
- Keep the sequence minimal but complete

Example:
// Step 1
await page.fill('#search', 'running shoes');
// Step 2
await page.click('#search-btn');
const maxRetries = 2;
// fallback: page.click('button[type="submit"]')
// Step 3
await page.waitForSelector('.results');
// Step 4
await page.$$eval('.results .title', els => els.map(e => e.textContent));

Respond ONLY with the script, no explanation or markdown.`

const revisePrompt = `Your previous script could not be compiled cleanly.

Original user request: %s

Previous script:
%s

Problems:
%s

Rewrite the whole script so every block uses only the understood calls. Respond ONLY with the script.`

func buildUserPrompt(inventoryJSON, userPrompt string) string {
	return "Page inventory:\n" + inventoryJSON + "\n\nUser request: " + userPrompt
}

func buildRevisePrompt(inventoryJSON, userPrompt, script string, problems []string) string {
	return "Page inventory:\n" + inventoryJSON + "\n\n" +
		fmt.Sprintf(revisePrompt, userPrompt, script, "- "+strings.Join(problems, "\n- "))
}
